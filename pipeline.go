package main

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// pageSource, coverRelay and articleStore are the three stages of an import.
type pageSource interface {
	FetchPage(ctx context.Context, pageID string) (string, PageMetadata, error)
}

type coverRelay interface {
	RelayImage(ctx context.Context, sourceURL, storageKey string) (string, error)
}

// Pipeline imports one Notion page into the articles table.
type Pipeline struct {
	pages  pageSource
	relay  coverRelay
	store  articleStore
	suffix func() string
	stats  *Stats
	log    logrus.FieldLogger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSuffixGenerator replaces the random storage key suffix.
func WithSuffixGenerator(fn func() string) PipelineOption {
	return func(p *Pipeline) { p.suffix = fn }
}

// WithStats records import outcomes into s.
func WithStats(s *Stats) PipelineOption {
	return func(p *Pipeline) { p.stats = s }
}

func NewPipeline(pages pageSource, relay coverRelay, store articleStore, log logrus.FieldLogger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		pages:  pages,
		relay:  relay,
		store:  store,
		suffix: randomSuffix,
		stats:  NewStats(),
		log:    log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Import fetches the page, relays its cover if it has one, and inserts the
// article. A failed cover relay never fails the import: the article is
// saved without a cover. The returned error is a *FetchError or *PersistError.
func (p *Pipeline) Import(ctx context.Context, pageID string) (*Article, error) {
	start := time.Now()
	a, err := p.importPage(ctx, strings.TrimSpace(pageID))
	p.stats.recordImport(time.Since(start), err)
	return a, err
}

func (p *Pipeline) importPage(ctx context.Context, pageID string) (*Article, error) {
	log := p.log.WithField("page_id", pageID)

	content, meta, err := p.pages.FetchPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	log.WithField("title", meta.Title).Info("fetched page")

	a := &Article{Title: meta.Title, Content: content}
	if meta.Cover != nil {
		a.Cover = p.relayCover(ctx, log, pageID, meta.Cover)
	}

	if err := p.store.SaveArticle(ctx, *a); err != nil {
		return nil, err
	}
	log.WithField("has_cover", a.Cover != nil).Info("article saved")
	return a, nil
}

// relayCover returns the public URL of the stored cover, or nil when any
// relay step failed.
func (p *Pipeline) relayCover(ctx context.Context, log logrus.FieldLogger, pageID string, cover *CoverRef) *string {
	key := storageKey(pageID, p.suffix)
	publicURL, err := p.relay.RelayImage(ctx, cover.URL, key)
	p.stats.recordCover(err)
	if err != nil {
		log.WithFields(logrus.Fields{
			"cover_kind": string(cover.Kind),
			"cover_url":  shortURL(cover.URL),
			"error_kind": errorKind(err).String(),
			"error":      err.Error(),
		}).Warn("cover image dropped")
		return nil
	}
	return &publicURL
}
