// Package httpstore is a docstore.Store client for the document store
// server. Requests carry an OAuth2 bearer token, are rate limited, and live
// queries run over a websocket that reconnects on failure.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Tiliavir/telesales-timesheet/internal/auth"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Credentials Credentials
	// RequestsPerSecond caps outgoing requests; zero means unlimited.
	RequestsPerSecond float64
	// HTTPClient is the transport the OAuth2 client wraps. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Client implements docstore.Store against a remote server.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	plain      *http.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	log        *slog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed atomic.Bool
}

var _ docstore.Store = (*Client)(nil)

// New returns a client for the server at opts.BaseURL.
func New(ctx context.Context, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote url %q", opts.BaseURL)
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	ts, err := opts.Credentials.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	return &Client{
		base:       base,
		httpClient: oauth2.NewClient(ctx, ts),
		plain:      hc,
		tokens:     ts,
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
		subs:       make(map[*subscription]struct{}),
	}, nil
}

func (c *Client) docURL(key string) string {
	return c.base.String() + "/v1/documents/" + url.PathEscape(key)
}

func (c *Client) queryURL(path string, q docstore.Query) string {
	v := url.Values{}
	for k, val := range q {
		v.Set(k, val)
	}
	u := c.base.String() + path
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return u
}

func (c *Client) Get(ctx context.Context, key string) (docstore.Document, error) {
	var d docstore.Document
	err := c.do(ctx, http.MethodGet, c.docURL(key), nil, &d)
	return d, err
}

func (c *Client) Put(ctx context.Context, key string, fields map[string]any) (docstore.Document, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	var d docstore.Document
	err := c.do(ctx, http.MethodPut, c.docURL(key), fields, &d)
	return d, err
}

func (c *Client) Patch(ctx context.Context, key string, fields map[string]any) (docstore.Document, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	var d docstore.Document
	err := c.do(ctx, http.MethodPatch, c.docURL(key), fields, &d)
	return d, err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, c.docURL(key), nil, nil)
}

func (c *Client) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}
	var docs []docstore.Document
	if err := c.do(ctx, http.MethodGet, c.queryURL("/v1/documents", q), nil, &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return docs, nil
}

// Close cancels every live query. Later calls fail with docstore.ErrClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.closed.Load() {
		return docstore.ErrClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote store request failed: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding remote store response: %w", err)
	}
	return nil
}

// statusError maps server responses back to the docstore sentinel errors.
func statusError(code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	var sentinel error
	switch code {
	case http.StatusNotFound:
		sentinel = docstore.ErrNotFound
	case http.StatusBadRequest:
		if strings.Contains(msg, docstore.ErrInvalidField.Error()) {
			sentinel = docstore.ErrInvalidField
		}
	case http.StatusUnauthorized:
		sentinel = auth.ErrInvalidToken
	case http.StatusForbidden:
		sentinel = auth.ErrForbidden
	case http.StatusServiceUnavailable:
		sentinel = docstore.ErrClosed
	}
	if sentinel != nil {
		return fmt.Errorf("remote store error %d: %w", code, sentinel)
	}
	return fmt.Errorf("remote store error %d: %s", code, msg)
}

// errPermanent marks watch failures that retrying cannot fix.
var errPermanent = errors.New("permanent")
