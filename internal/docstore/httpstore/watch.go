package httpstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
)

const (
	minBackoff     = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	wsPingInterval = 30 * time.Second
	wsPingTimeout  = 5 * time.Second
	wsReadLimit    = 32 << 20
)

// Watch opens a live query. Connection failures are reported to fn and
// retried with exponential backoff; authorization failures end the
// subscription.
func (c *Client) Watch(ctx context.Context, q docstore.Query, fn docstore.WatchFunc) (docstore.Subscription, error) {
	if c.closed.Load() {
		return nil, docstore.ErrClosed
	}
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		client:  c,
		query:   q,
		fn:      fn,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

type subscription struct {
	client *Client
	query  docstore.Query
	fn     docstore.WatchFunc

	cancel    context.CancelFunc
	stopped   chan struct{}
	cancelled atomic.Bool
	once      sync.Once
}

// Cancel closes the connection and waits for the reader to exit.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
		<-s.stopped
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()
	})
}

func (s *subscription) deliver(docs []docstore.Document, err error) {
	if s.cancelled.Load() {
		return
	}
	if err == nil && docs == nil {
		docs = []docstore.Document{}
	}
	s.fn(docs, err)
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.stopped)
	backoff := minBackoff
	for {
		connected, err := s.stream(ctx)
		if ctx.Err() != nil || s.cancelled.Load() {
			return
		}
		if connected {
			backoff = minBackoff
		}
		s.deliver(nil, err)
		if errors.Is(err, errPermanent) {
			return
		}
		s.client.log.Warn("live query disconnected", "query", s.query, "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (s *subscription) wsURL() string {
	u := s.client.queryURL("/v1/watch", s.query)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// stream runs one connection until it fails. connected reports whether the
// server accepted it.
func (s *subscription) stream(ctx context.Context) (connected bool, err error) {
	tok, err := s.client.tokens.Token()
	if err != nil {
		return false, fmt.Errorf("obtaining token: %w", err)
	}
	header := http.Header{}
	tok.SetAuthHeader(&http.Request{Header: header})

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, s.wsURL(), &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: s.client.plain,
	})
	cancel()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, fmt.Errorf("%w: watch rejected with status %d", errPermanent, resp.StatusCode)
		}
		return false, fmt.Errorf("dial live query: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client closed")
	conn.SetReadLimit(wsReadLimit)

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg docstore.WatchMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return true, fmt.Errorf("read live query: %w", err)
		}
		switch msg.Type {
		case docstore.MessageSnapshot:
			s.deliver(msg.Documents, nil)
		case docstore.MessageError:
			s.deliver(nil, errors.New(msg.Error))
		}
	}
}
