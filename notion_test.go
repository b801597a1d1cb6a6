package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// handlerTransport serves requests from an in-process handler, so the real
// notionapi client can be pointed at a fake without touching the network.
type handlerTransport struct {
	h http.Handler
}

func (t handlerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.h.ServeHTTP(rec, r)
	if err := r.Context().Err(); err != nil {
		return nil, err
	}
	return rec.Result(), nil
}

// fakeNotion answers GET /v1/pages/{id} and GET /v1/blocks/{id}/children.
// Children are served pageSize at a time to exercise pagination.
type fakeNotion struct {
	mu       sync.Mutex
	pages    map[string]string
	children map[string][]string
	pageSize int
	status   int
	delay    time.Duration
	calls    int
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{pages: map[string]string{}, children: map[string][]string{}, pageSize: 2}
}

func (f *fakeNotion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls++
	status, delay := f.status, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"object":"error","status":%d,"code":"internal_server_error","message":"fake failure"}`, status)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case strings.HasPrefix(path, "pages/"):
		body, ok := f.pages[strings.TrimPrefix(path, "pages/")]
		if !ok {
			notionNotFound(w)
			return
		}
		w.Write([]byte(body))
	case strings.HasPrefix(path, "blocks/") && strings.HasSuffix(path, "/children"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "blocks/"), "/children")
		f.serveChildren(w, r, id)
	default:
		notionNotFound(w)
	}
}

func (f *fakeNotion) serveChildren(w http.ResponseWriter, r *http.Request, id string) {
	all := f.children[id]
	start := 0
	if c := r.URL.Query().Get("start_cursor"); c != "" {
		start, _ = strconv.Atoi(c)
	}
	end := start + f.pageSize
	if end > len(all) {
		end = len(all)
	}
	next := "null"
	if end < len(all) {
		next = strconv.Quote(strconv.Itoa(end))
	}
	fmt.Fprintf(w, `{"object":"list","results":[%s],"next_cursor":%s,"has_more":%t}`,
		strings.Join(all[start:end], ","), next, end < len(all))
}

func notionNotFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"object":"error","status":404,"code":"object_not_found","message":"Could not find page"}`))
}

func newTestFetcher(f *fakeNotion, timeout time.Duration) *pageFetcher {
	client := notionapi.NewClient("secret_test",
		notionapi.WithHTTPClient(&http.Client{Transport: handlerTransport{h: f}}))
	return newPageFetcher(client, timeout, quietLogger())
}

// --- JSON builders ---

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

type span struct {
	text   string
	bold   bool
	italic bool
	strike bool
	code   bool
	href   string
}

func richText(spans ...span) string {
	var parts []string
	for _, s := range spans {
		rt := map[string]any{
			"type":       "text",
			"text":       map[string]any{"content": s.text},
			"plain_text": s.text,
			"annotations": map[string]any{
				"bold": s.bold, "italic": s.italic, "strikethrough": s.strike,
				"underline": false, "code": s.code, "color": "default",
			},
		}
		if s.href != "" {
			rt["href"] = s.href
			rt["text"] = map[string]any{"content": s.text, "link": map[string]any{"url": s.href}}
		}
		parts = append(parts, mustJSON(rt))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func plain(text string) string { return richText(span{text: text}) }

func block(id, typ string, hasChildren bool, body string) string {
	return fmt.Sprintf(`{"object":"block","id":%q,"type":%q,"has_children":%t,"archived":false,%q:%s}`,
		id, typ, hasChildren, typ, body)
}

func textBlock(id, typ, rich string) string {
	return block(id, typ, false, `{"rich_text":`+rich+`,"color":"default"}`)
}

func pageJSON(id, titleProp, title, cover string) string {
	props := fmt.Sprintf(`{%q:{"id":"title","type":"title","title":%s}}`, titleProp, plain(title))
	if title == "" {
		props = fmt.Sprintf(`{%q:{"id":"title","type":"title","title":[]}}`, titleProp)
	}
	if cover == "" {
		cover = "null"
	}
	return fmt.Sprintf(`{"object":"page","id":%q,"created_time":"2024-05-01T10:00:00.000Z",`+
		`"last_edited_time":"2024-05-02T10:00:00.000Z","archived":false,"cover":%s,`+
		`"parent":{"type":"workspace","workspace":true},"properties":%s,"url":"https://www.notion.so/%s"}`,
		id, cover, props, id)
}

const externalCover = `{"type":"external","external":{"url":"https://images.example.com/cover.jpg"}}`

const hostedCover = `{"type":"file","file":{"url":"https://prod-files.s3.amazonaws.com/cover.png?X-Amz-Signature=abc","expiry_time":"2024-05-02T11:00:00.000Z"}}`

// --- metadata ---

func TestFetchPage_TitleAndExternalCover(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "  My Article  ", externalCover)
	f.children["p1"] = []string{textBlock("b1", "paragraph", plain("Hello"))}

	md, meta, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "My Article" {
		t.Errorf("title = %q, want trimmed %q", meta.Title, "My Article")
	}
	if meta.Cover == nil || meta.Cover.Kind != CoverExternal || meta.Cover.URL != "https://images.example.com/cover.jpg" {
		t.Errorf("cover = %+v, want external cover", meta.Cover)
	}
	if md != "Hello" {
		t.Errorf("markdown = %q, want %q", md, "Hello")
	}
}

func TestFetchPage_HostedCover(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Hosted", hostedCover)

	_, meta, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Cover == nil || meta.Cover.Kind != CoverHosted {
		t.Fatalf("cover = %+v, want hosted cover", meta.Cover)
	}
	if !strings.HasPrefix(meta.Cover.URL, "https://prod-files.s3.amazonaws.com/") {
		t.Errorf("cover URL = %q", meta.Cover.URL)
	}
}

func TestFetchPage_NoCoverAndEmptyBody(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Empty", "")

	md, meta, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Cover != nil {
		t.Errorf("cover = %+v, want nil", meta.Cover)
	}
	if md != "" {
		t.Errorf("markdown = %q, want empty", md)
	}
}

func TestFetchPage_MissingTitle(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{"no Name property", pageJSON("p1", "Title", "Wrong property", "")},
		{"empty title array", pageJSON("p1", "Name", "", "")},
		{"blank title", pageJSON("p1", "Name", "   ", "")},
		{"Name is not a title", `{"object":"page","id":"p1","created_time":"2024-05-01T10:00:00.000Z",` +
			`"last_edited_time":"2024-05-01T10:00:00.000Z","parent":{"type":"workspace","workspace":true},` +
			`"properties":{"Name":{"id":"abc","type":"rich_text","rich_text":` + plain("x") + `},` +
			`"Title":{"id":"title","type":"title","title":` + plain("x") + `}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeNotion()
			f.pages["p1"] = tt.page
			_, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
			if errorKind(err) != KindMissingTitle {
				t.Fatalf("kind = %v, want missing_title (err %v)", errorKind(err), err)
			}
			if !strings.Contains(err.Error(), "Name property not found") {
				t.Errorf("error = %v", err)
			}
		})
	}
}

func TestFetchPage_MissingTitleSkipsBlocks(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "", "")
	f.children["p1"] = []string{textBlock("b1", "paragraph", plain("unused"))}

	newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if f.calls != 1 {
		t.Errorf("made %d Notion calls, want only the page lookup", f.calls)
	}
}

// --- errors ---

func TestFetchPage_NotFound(t *testing.T) {
	f := newFakeNotion()
	_, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "missing")
	if errorKind(err) != KindNotFound {
		t.Fatalf("kind = %v, want not_found (err %v)", errorKind(err), err)
	}
}

func TestFetchPage_Unavailable(t *testing.T) {
	f := newFakeNotion()
	f.status = http.StatusBadGateway
	_, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if errorKind(err) != KindUpstreamUnavailable {
		t.Fatalf("kind = %v, want upstream_unavailable (err %v)", errorKind(err), err)
	}
}

func TestFetchPage_Timeout(t *testing.T) {
	f := newFakeNotion()
	f.delay = time.Second
	_, _, err := newTestFetcher(f, 20*time.Millisecond).FetchPage(context.Background(), "p1")
	if errorKind(err) != KindUpstreamTimeout {
		t.Fatalf("kind = %v, want upstream_timeout (err %v)", errorKind(err), err)
	}
}

func TestClassifyNotionError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&notionapi.Error{Status: 404, Code: "object_not_found"}, KindNotFound},
		{&notionapi.Error{Status: 400, Code: "validation_error"}, KindNotFound},
		{&notionapi.Error{Status: 401, Code: "unauthorized"}, KindUpstreamUnavailable},
		{&notionapi.Error{Status: 429, Code: "rate_limited"}, KindUpstreamUnavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindUpstreamTimeout},
		{fmt.Errorf("connection refused"), KindUpstreamUnavailable},
	}
	for _, tt := range tests {
		if got := classifyNotionError(tt.err); got != tt.want {
			t.Errorf("classifyNotionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// --- block tree ---

func TestFetchPage_PaginatesAndNests(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Nested", "")
	f.children["p1"] = []string{
		textBlock("b1", "heading_1", plain("Intro")),
		textBlock("b2", "paragraph", plain("First")),
		block("b3", "bulleted_list_item", true, `{"rich_text":`+plain("outer")+`,"color":"default"}`),
		textBlock("b4", "paragraph", plain("Last")),
	}
	f.children["b3"] = []string{textBlock("b5", "bulleted_list_item", plain("inner"))}

	md, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Intro", "First", "- outer", "inner", "Last"} {
		if !strings.Contains(md, want) {
			t.Errorf("expected %q in:\n%s", want, md)
		}
	}
	if strings.Index(md, "First") > strings.Index(md, "Last") {
		t.Errorf("blocks out of order:\n%s", md)
	}
	if !strings.Contains(md, "  - inner") && !strings.Contains(md, "\t- inner") {
		t.Errorf("expected nested list item, got:\n%s", md)
	}
}

func TestFetchPage_ChildPageNotDescended(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Parent", "")
	f.children["p1"] = []string{block("c1", "child_page", true, `{"title":"Sub page"}`)}
	f.children["c1"] = []string{textBlock("x", "paragraph", plain("should not appear"))}

	md, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "**Sub page**") {
		t.Errorf("expected child page title, got:\n%s", md)
	}
	if strings.Contains(md, "should not appear") {
		t.Errorf("child page content should not be inlined:\n%s", md)
	}
}

func TestFetchPage_SyncedBlockRendersChildren(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Synced", "")
	f.children["p1"] = []string{block("s1", "synced_block", true, `{"synced_from":null}`)}
	f.children["s1"] = []string{textBlock("x", "paragraph", plain("shared text"))}

	md, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if md != "shared text" {
		t.Errorf("markdown = %q, want %q", md, "shared text")
	}
}

func TestFetchPage_RichBlocks(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Rich", "")
	f.children["p1"] = []string{
		textBlock("a", "paragraph", richText(
			span{text: "plain "},
			span{text: "bold", bold: true},
			span{text: " and "},
			span{text: "italic", italic: true},
			span{text: " "},
			span{text: "gone", strike: true},
			span{text: " "},
			span{text: "x := 1", code: true},
			span{text: " "},
			span{text: "link", href: "https://example.com"},
		)),
		textBlock("b", "numbered_list_item", plain("one")),
		textBlock("c", "numbered_list_item", plain("two")),
		block("d", "to_do", false, `{"rich_text":`+plain("done")+`,"checked":true,"color":"default"}`),
		block("e", "to_do", false, `{"rich_text":`+plain("todo")+`,"checked":false,"color":"default"}`),
		textBlock("f", "quote", plain("quoted")),
		block("g", "code", false, `{"rich_text":`+plain("fmt.Println(\"hi\")")+`,"caption":[],"language":"go"}`),
		block("h", "divider", false, `{}`),
		block("i", "image", false, `{"type":"external","external":{"url":"https://example.com/pic.png"},"caption":`+plain("A pic")+`}`),
		block("j", "bookmark", false, `{"url":"https://example.org/ref","caption":[]}`),
		block("k", "equation", false, `{"expression":"e=mc^2"}`),
		block("l", "table_of_contents", false, `{"color":"default"}`),
	}

	md, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"**bold**",
		"*italic*",
		"~~gone~~",
		"`x := 1`",
		"[link](https://example.com)",
		"1. one",
		"2. two",
		"[x] done",
		"[ ] todo",
		"> quoted",
		"```go",
		`fmt.Println("hi")`,
		"![A pic](https://example.com/pic.png)",
		"(https://example.org/ref)",
		"$$\ne=mc^2\n$$",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("expected %q in:\n%s", want, md)
		}
	}
}

func TestFetchPage_Table(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Table", "")
	f.children["p1"] = []string{block("t", "table", true, `{"table_width":2,"has_column_header":true,"has_row_header":false}`)}
	f.children["t"] = []string{
		block("r1", "table_row", false, `{"cells":[`+plain("Name")+`,`+plain("Qty")+`]}`),
		block("r2", "table_row", false, `{"cells":[`+plain("apples")+`,`+plain("3")+`]}`),
	}

	md, _, err := newTestFetcher(f, 5*time.Second).FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Name", "Qty", "apples", "|", "---"} {
		if !strings.Contains(md, want) {
			t.Errorf("expected %q in table:\n%s", want, md)
		}
	}
}

func TestFetchPage_LogsSkippedBlockTypes(t *testing.T) {
	f := newFakeNotion()
	f.pages["p1"] = pageJSON("p1", "Name", "Skips", "")
	f.children["p1"] = []string{
		block("a", "table_of_contents", false, `{"color":"default"}`),
		block("b", "table_of_contents", false, `{"color":"default"}`),
		textBlock("c", "paragraph", plain("kept")),
	}

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	fetcher := newTestFetcher(f, 5*time.Second)
	fetcher.log = log

	md, _, err := fetcher.FetchPage(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if md != "kept" {
		t.Errorf("markdown = %q, want %q", md, "kept")
	}

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "unsupported block type skipped" && e.Data["block_type"] == "table_of_contents" {
			found = true
			if e.Data["count"] != 2 {
				t.Errorf("count = %v, want 2", e.Data["count"])
			}
		}
	}
	if !found {
		t.Error("expected a debug entry for the skipped block type")
	}
}

func TestSkippedTypes_NamesUndecodedBlocks(t *testing.T) {
	nodes := []*blockNode{
		{block: &notionapi.UnsupportedBlock{}},
		{block: &notionapi.ParagraphBlock{BasicBlock: notionapi.BasicBlock{Type: notionapi.BlockTypeParagraph}},
			children: []*blockNode{{block: &notionapi.UnsupportedBlock{}}}},
	}
	counts := map[string]int{}
	skippedTypes(nodes, counts)

	if counts["unsupported"] != 2 {
		t.Errorf("counts = %v, want 2 under \"unsupported\"", counts)
	}
	if _, ok := counts[""]; ok {
		t.Errorf("empty block type should not be counted: %v", counts)
	}
}
