// Package source retrieves the remote torrent dump with conditional GET.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/tgxsync/internal/metrics"
)

// DefaultURL is the public 24h dump.
const DefaultURL = "https://torrentgalaxy.to/cache/tgx24hdump.txt.gz"

const maxRedirects = 5

// Outcome is the result of a fetch. Exactly one of NotModified or Body is
// set. The caller must close Body.
type Outcome struct {
	NotModified  bool
	Body         io.ReadCloser
	LastModified string
	StatusCode   int
}

// FetchError reports a transport failure or an unexpected final status.
type FetchError struct {
	URL        string
	StatusCode int
	// RetryAfter is parsed from the Retry-After header on 429 and 503.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	case e.RetryAfter > 0:
		return fmt.Sprintf("fetching %s: status %d (retry after %s)", e.URL, e.StatusCode, e.RetryAfter)
	default:
		return fmt.Sprintf("fetching %s: status %d", e.URL, e.StatusCode)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config configures the Client.
type Config struct {
	// Timeout bounds connecting and waiting for response headers. Reading
	// the body is not bounded. Default: 60s.
	Timeout   time.Duration
	UserAgent string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "tgxsync/1.0"
	}
}

// Client performs conditional fetches of the dump.
type Client struct {
	http   *http.Client
	config Config
}

func New(cfg Config) *Client {
	cfg.defaults()
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       90 * time.Second,
		// Leave Content-Encoding alone; the dump layer sniffs gzip itself.
		DisableCompression: true,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch requests url. A non-empty marker is sent as If-Modified-Since; a 304
// answer yields Outcome{NotModified: true} without touching the body.
func (c *Client) Fetch(ctx context.Context, url, marker string) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.RecordFetch(metrics.FetchError)
		return Outcome{}, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if marker != "" {
		req.Header.Set("If-Modified-Since", marker)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordFetch(metrics.FetchError)
		return Outcome{}, &FetchError{URL: url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		resp.Body.Close()
		metrics.RecordFetch(metrics.FetchNotModified)
		return Outcome{NotModified: true, StatusCode: resp.StatusCode}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		metrics.RecordFetch(metrics.FetchOK)
		return Outcome{
			Body:         &body{rc: resp.Body, url: url},
			LastModified: resp.Header.Get("Last-Modified"),
			StatusCode:   resp.StatusCode,
		}, nil
	}

	// Drain a little so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	metrics.RecordFetch(metrics.FetchError)

	fe := &FetchError{URL: url, StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return Outcome{}, fe
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// body reports transport failures during streaming as *FetchError.
type body struct {
	rc  io.ReadCloser
	url string
	err error
}

func (b *body) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		b.err = &FetchError{URL: b.url, Err: err}
		return n, b.err
	}
	return n, err
}

func (b *body) Close() error {
	return b.rc.Close()
}
