package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

const dialTimeout = 10 * time.Second

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// readLimited reads up to limit bytes from r. If the body is longer it
// returns an error. A limit <= 0 reads without limit.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// Read limit+1 bytes so we can detect overflow without a custom reader.
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit))
	}
	return data, nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// newBrowserClient creates an HTTP client that mimics a real browser's
// TLS fingerprint using utls. Supports both HTTP/1.1 and HTTP/2. Some image
// CDNs refuse Go's default fingerprint.
func newBrowserClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout}

	rt := &browserTransport{
		dial: safeDialContext(dialer, allowPrivate),
		h1: &http.Transport{
			DialContext: safeDialContext(dialer, allowPrivate),
		},
		h2: &http2.Transport{},
	}
	return &http.Client{Transport: rt}
}

// newPlainClient is used for http:// sources.
func newPlainClient(allowPrivate bool) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: safeDialContext(&net.Dialer{Timeout: dialTimeout}, allowPrivate),
		},
	}
}

type browserTransport struct {
	dial func(context.Context, string, string) (net.Conn, error)
	h1   *http.Transport
	h2   *http2.Transport
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := bt.dial(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
	}, utls.HelloFirefox_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}

	alpn := tlsConn.ConnectionState().NegotiatedProtocol
	return &utlsConn{tlsConn}, alpn, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr = addr + ":443"
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		return roundTripH2(bt.h2, conn, req)
	}

	// HTTP/1.1: inject the TLS conn into a one-shot transport.
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
		DisableKeepAlives: true,
	}
	return transport.RoundTrip(req)
}

// roundTripH2 sends req on a dedicated HTTP/2 connection. The connection is
// closed along with the response body, or immediately if the request fails.
func roundTripH2(t *http2.Transport, conn net.Conn, req *http.Request) (*http.Response, error) {
	h2conn, err := t.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := h2conn.RoundTrip(req)
	if err != nil {
		h2conn.Close()
		return nil, err
	}
	resp.Body = &connClosingBody{ReadCloser: resp.Body, conn: h2conn}
	return resp, nil
}

type connClosingBody struct {
	io.ReadCloser
	conn io.Closer
}

func (b *connClosingBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}

// downloader fetches cover images from arbitrary hosts.
type downloader struct {
	browser   *http.Client
	plain     *http.Client
	userAgent string
	maxBytes  int64
}

func newDownloader(allowPrivate bool, maxBytes int64) *downloader {
	return &downloader{
		browser:   newBrowserClient(allowPrivate),
		plain:     newPlainClient(allowPrivate),
		userAgent: defaultUA,
		maxBytes:  maxBytes,
	}
}

// fetchImage downloads rawURL and returns its bytes and MIME type.
func (d *downloader) fetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	client := d.plain
	switch parsed.Scheme {
	case "https":
		client = d.browser
	case "http":
	default:
		return nil, "", fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, signature included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, "", fmt.Errorf("fetch %s: %w", shortURL(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, URL: shortURL(rawURL)}
	}

	data, err := readLimited(resp.Body, d.maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("reading response: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" || mime == "binary/octet-stream" {
		mime = http.DetectContentType(data)
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
	}
	return data, mime, nil
}
