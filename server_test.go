package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeImporter struct {
	gotID string
	err   error
}

func (f *fakeImporter) Import(ctx context.Context, pageID string) (*Article, error) {
	f.gotID = pageID
	if f.err != nil {
		return nil, f.err
	}
	return &Article{Title: "T", Content: "c"}, nil
}

func serve(t *testing.T, imp importer, path string) (*httptest.ResponseRecorder, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	router := newRouter(NewImportHandler(imp, NewStats(), log), log)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec, hook
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestImportPage_Success(t *testing.T) {
	imp := &fakeImporter{}
	rec, _ := serve(t, imp, "/api/1a2b3c")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if imp.gotID != "1a2b3c" {
		t.Errorf("imported %q, want 1a2b3c", imp.gotID)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["message"] != "article saved" {
		t.Errorf("body = %v", body)
	}
}

func TestImportPage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"missing title", &FetchError{Kind: KindMissingTitle, Err: errMissingTitle}, 400, "Name property not found"},
		{"not found", &FetchError{Kind: KindNotFound}, 500, "error processing page"},
		{"unavailable", &FetchError{Kind: KindUpstreamUnavailable}, 500, "error processing page"},
		{"fetch timeout", &FetchError{Kind: KindUpstreamTimeout, Err: context.DeadlineExceeded}, 504, "timed out fetching page"},
		{"write failed", &PersistError{Kind: KindWriteFailed, Err: errors.New("boom")}, 500, "error saving to database"},
		{"persist timeout", &PersistError{Kind: KindUpstreamTimeout, Err: context.DeadlineExceeded}, 500, "error saving to database"},
		{"unclassified", errors.New("surprise"), 500, "error processing page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, hook := serve(t, &fakeImporter{err: tt.err}, "/api/p1")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			body := decodeBody(t, rec)
			if body["error"] != tt.msg {
				t.Errorf("error = %v, want %q", body["error"], tt.msg)
			}
			if len(body) != 1 {
				t.Errorf("body should only carry the error message: %v", body)
			}

			var logged bool
			for _, e := range hook.AllEntries() {
				if e.Message == "import failed" && e.Level == logrus.ErrorLevel && e.Data["page_id"] == "p1" {
					logged = true
				}
			}
			if !logged {
				t.Error("expected an error log entry for the failed import")
			}
		})
	}
}

func TestImportPage_RequestLog(t *testing.T) {
	_, hook := serve(t, &fakeImporter{}, "/api/p9")

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "request handled" {
			found = true
			if e.Data["page_id"] != "p9" || e.Data["status"] != 200 || e.Data["method"] != "GET" {
				t.Errorf("request log fields = %v", e.Data)
			}
		}
	}
	if !found {
		t.Error("expected a request log entry")
	}
}

func TestImportPage_UnknownRoute(t *testing.T) {
	rec, _ := serve(t, &fakeImporter{}, "/api/")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	log, _ := test.NewNullLogger()
	stats := NewStats()
	stats.recordImport(0, nil)
	stats.recordImport(0, &FetchError{Kind: KindNotFound})
	router := newRouter(NewImportHandler(&fakeImporter{}, stats, log), log)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Status string        `json:"status"`
		Stats  StatsSnapshot `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if body.Stats.Imports != 2 || body.Stats.Succeeded != 1 || body.Stats.Failures["not_found"] != 1 {
		t.Errorf("stats = %+v", body.Stats)
	}
}

func TestStatusFor_WrappedErrors(t *testing.T) {
	err := fmt.Errorf("outer: %w", &FetchError{Kind: KindMissingTitle, Err: errMissingTitle})
	if status, _ := statusFor(err); status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}
