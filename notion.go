package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/sirupsen/logrus"
)

// titleProperty is the page property holding the article title.
const titleProperty = "Name"

// maxBlockDepth bounds recursion into nested blocks.
const maxBlockDepth = 16

// notionPages and notionBlocks are the parts of *notionapi.Client the
// fetcher needs.
type notionPages interface {
	Get(ctx context.Context, id notionapi.PageID) (*notionapi.Page, error)
}

type notionBlocks interface {
	GetChildren(ctx context.Context, id notionapi.BlockID, pagination *notionapi.Pagination) (*notionapi.GetChildrenResponse, error)
}

// pageFetcher retrieves a page's metadata and its content as Markdown.
type pageFetcher struct {
	pages   notionPages
	blocks  notionBlocks
	timeout time.Duration
	log     logrus.FieldLogger
}

func newPageFetcher(client *notionapi.Client, timeout time.Duration, log logrus.FieldLogger) *pageFetcher {
	return &pageFetcher{
		pages:   client.Page,
		blocks:  client.Block,
		timeout: timeout,
		log:     log,
	}
}

// FetchPage returns the page body as Markdown plus its title and cover.
// Metadata is read first so a page without a title fails before the block
// tree is walked.
func (f *pageFetcher) FetchPage(ctx context.Context, pageID string) (string, PageMetadata, error) {
	pageID = strings.TrimSpace(pageID)

	page, err := f.getPage(ctx, pageID)
	if err != nil {
		return "", PageMetadata{}, &FetchError{Kind: classifyNotionError(err), PageID: pageID, Err: err}
	}

	meta, err := pageMetadata(page)
	if err != nil {
		return "", PageMetadata{}, &FetchError{Kind: KindMissingTitle, PageID: pageID, Err: err}
	}

	nodes, err := f.blockTree(ctx, notionapi.BlockID(pageID), 0)
	if err != nil {
		return "", PageMetadata{}, &FetchError{Kind: classifyNotionError(err), PageID: pageID, Err: err}
	}

	skipped := map[string]int{}
	skippedTypes(nodes, skipped)
	for t, count := range skipped {
		f.log.WithFields(logrus.Fields{"page_id": pageID, "block_type": t, "count": count}).Debug("unsupported block type skipped")
	}

	md, err := blocksToMarkdown(nodes)
	if err != nil {
		return "", PageMetadata{}, &FetchError{Kind: KindUpstreamUnavailable, PageID: pageID, Err: err}
	}
	return md, meta, nil
}

func (f *pageFetcher) getPage(ctx context.Context, pageID string) (*notionapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.pages.Get(ctx, notionapi.PageID(pageID))
}

// blockTree lists the children of id, following pagination, and recurses
// into every block that has children of its own.
func (f *pageFetcher) blockTree(ctx context.Context, id notionapi.BlockID, depth int) ([]*blockNode, error) {
	var nodes []*blockNode
	var cursor notionapi.Cursor
	for {
		resp, err := f.listChildren(ctx, id, cursor)
		if err != nil {
			return nil, err
		}
		for _, b := range resp.Results {
			n := &blockNode{block: b}
			if b.GetHasChildren() && descends(b) {
				if depth+1 >= maxBlockDepth {
					f.log.WithField("block_id", string(b.GetID())).Warn("block nesting too deep, children skipped")
				} else {
					n.children, err = f.blockTree(ctx, b.GetID(), depth+1)
					if err != nil {
						return nil, err
					}
				}
			}
			nodes = append(nodes, n)
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return nodes, nil
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
}

func (f *pageFetcher) listChildren(ctx context.Context, id notionapi.BlockID, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.blocks.GetChildren(ctx, id, &notionapi.Pagination{StartCursor: cursor, PageSize: 100})
}

// descends reports whether the children of b belong to this page. Child
// pages and databases are separate documents.
func descends(b notionapi.Block) bool {
	switch b.GetType() {
	case "child_page", "child_database":
		return false
	}
	return true
}

var errMissingTitle = errors.New(titleProperty + " property not found")

// pageMetadata validates the page properties once, at the API boundary.
func pageMetadata(page *notionapi.Page) (PageMetadata, error) {
	if page == nil {
		return PageMetadata{}, errMissingTitle
	}
	prop, ok := page.Properties[titleProperty]
	if !ok {
		return PageMetadata{}, errMissingTitle
	}
	tp, ok := prop.(*notionapi.TitleProperty)
	if !ok || tp == nil {
		return PageMetadata{}, errMissingTitle
	}
	title := strings.TrimSpace(plainText(tp.Title))
	if title == "" {
		return PageMetadata{}, errMissingTitle
	}
	return PageMetadata{Title: title, Cover: coverRef(page.Cover)}, nil
}

func coverRef(img *notionapi.Image) *CoverRef {
	if img == nil {
		return nil
	}
	switch img.Type {
	case "external":
		if img.External != nil && img.External.URL != "" {
			return &CoverRef{Kind: CoverExternal, URL: img.External.URL}
		}
	case "file":
		if img.File != nil && img.File.URL != "" {
			return &CoverRef{Kind: CoverHosted, URL: img.File.URL}
		}
	}
	return nil
}

func plainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return cleanText(b.String())
}

// classifyNotionError maps API and transport failures onto fetch kinds.
// Notion answers 400 for malformed ids and 404 for pages the integration
// cannot see; both mean the page is not available to us.
func classifyNotionError(err error) ErrorKind {
	if isTimeout(err) {
		return KindUpstreamTimeout
	}
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadRequest, http.StatusNotFound:
			return KindNotFound
		}
	}
	return KindUpstreamUnavailable
}
