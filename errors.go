package main

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failure in one of the pipeline stages.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindMissingTitle
	KindUpstreamUnavailable
	KindUpstreamTimeout
	KindDownloadFailed
	KindTranscodeFailed
	KindUploadFailed
	KindWriteFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindMissingTitle:
		return "missing_title"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindDownloadFailed:
		return "download_failed"
	case KindTranscodeFailed:
		return "transcode_failed"
	case KindUploadFailed:
		return "upload_failed"
	case KindWriteFailed:
		return "write_failed"
	}
	return "unknown"
}

// HTTPError is a non-2xx response from one of the upstream services.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// FetchError is returned by the page fetcher.
type FetchError struct {
	Kind   ErrorKind
	PageID string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch page %s: %s", e.PageID, e.Kind)
	}
	return fmt.Sprintf("fetch page %s: %s: %v", e.PageID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RelayError is returned by the image relay. The pipeline never surfaces it
// to callers; the article is saved without a cover instead.
type RelayError struct {
	Kind      ErrorKind
	SourceURL string
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay image %s: %s: %v", shortURL(e.SourceURL), e.Kind, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// PersistError is returned by article stores.
type PersistError struct {
	Kind ErrorKind
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("save article: %s: %v", e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// isTimeout reports whether err came from an expired deadline, either the
// context's or the HTTP client's.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// kindOr returns KindUpstreamTimeout for timeouts and fallback otherwise.
func kindOr(err error, fallback ErrorKind) ErrorKind {
	if isTimeout(err) {
		return KindUpstreamTimeout
	}
	return fallback
}

// errorKind extracts the kind from any of the stage errors, or 0.
func errorKind(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	var pe *PersistError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
