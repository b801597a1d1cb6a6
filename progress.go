// Progress lines for `quire import`, written to stderr so stdout carries
// only the saved articles.
package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// progressOut is the writer for progress lines. --silent sets it to io.Discard.
var progressOut io.Writer = io.Discard

// progressMu serialises writes to progressOut.
var progressMu sync.Mutex

func pprintf(format string, args ...any) {
	progressMu.Lock()
	defer progressMu.Unlock()
	fmt.Fprintf(progressOut, format, args...)
}

// shortURL returns host + path with no scheme or query, truncated to 60
// characters. Hosted cover URLs carry signatures in the query string, so
// logs only ever see this form.
func shortURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	display := u.Host + u.Path
	display = strings.TrimSuffix(display, "/")
	if len(display) > 60 {
		display = display[:57] + "..."
	}
	return display
}
