package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// articleStore inserts one article per call. There is no upsert: importing
// the same page twice writes two rows.
type articleStore interface {
	SaveArticle(ctx context.Context, a Article) error
}

// restArticleStore inserts through Supabase's PostgREST endpoint.
type restArticleStore struct {
	baseURL string
	apiKey  string
	table   string
	timeout time.Duration
	client  *http.Client
}

func newRESTArticleStore(baseURL, apiKey, table string, timeout time.Duration, client *http.Client) *restArticleStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &restArticleStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		table:   table,
		timeout: timeout,
		client:  client,
	}
}

func (s *restArticleStore) SaveArticle(ctx context.Context, a Article) error {
	if err := s.insert(ctx, a); err != nil {
		return &PersistError{Kind: kindOr(err, KindWriteFailed), Err: err}
	}
	return nil
}

func (s *restArticleStore) insert(ctx context.Context, a Article) error {
	body, err := json.Marshal([]Article{a})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := s.baseURL + "/rest/v1/" + url.PathEscape(s.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	setSupabaseHeaders(req, s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Message: readErrorMessage(resp.Body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// articleRow is the insert model: only the columns this service owns.
type articleRow struct {
	bun.BaseModel `bun:"table:articles"`

	Title   string  `bun:"title,notnull"`
	Content string  `bun:"content,notnull"`
	Cover   *string `bun:"cover"`
}

// articleTable is the full table created by `quire migrate`.
type articleTable struct {
	bun.BaseModel `bun:"table:articles"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Title     string    `bun:"title,notnull"`
	Content   string    `bun:"content,notnull"`
	Cover     *string   `bun:"cover"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// bunArticleStore inserts directly into Postgres.
type bunArticleStore struct {
	db      *bun.DB
	table   string
	timeout time.Duration
}

func newBunArticleStore(db *bun.DB, table string, timeout time.Duration) *bunArticleStore {
	return &bunArticleStore{db: db, table: table, timeout: timeout}
}

// openPostgres opens a bun handle over lib/pq.
func openPostgres(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func (s *bunArticleStore) SaveArticle(ctx context.Context, a Article) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := &articleRow{Title: a.Title, Content: a.Content, Cover: a.Cover}
	_, err := s.db.NewInsert().
		Model(row).
		ModelTableExpr("?", bun.Ident(s.table)).
		Exec(ctx)
	if err != nil {
		return &PersistError{Kind: kindOr(err, KindWriteFailed), Err: err}
	}
	return nil
}

// createArticlesTable creates the articles table if it does not exist.
func createArticlesTable(ctx context.Context, db *bun.DB, table string) error {
	_, err := db.NewCreateTable().
		Model((*articleTable)(nil)).
		ModelTableExpr("?", bun.Ident(table)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}
	return nil
}
