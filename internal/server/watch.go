package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Tiliavir/telesales-timesheet/internal/auth"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
)

const (
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
)

// handleWatch streams the full result set of a live query over a websocket
// each time it changes.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	q := queryFrom(r)
	if !canQuery(identity(r), q) {
		s.fail(w, "watch", auth.ErrForbidden)
		return
	}
	if err := docstore.ValidateQuery(q); err != nil {
		s.fail(w, "watch", err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "watch closed")

	// The client never sends data frames; CloseRead handles control frames
	// and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricWatchers.Inc()
	defer metricWatchers.Dec()

	updates := make(chan docstore.WatchMessage, 1)
	sub, err := s.store.Watch(ctx, q, func(docs []docstore.Document, err error) {
		msg := docstore.WatchMessage{Type: docstore.MessageSnapshot, Documents: docs}
		if err != nil {
			msg = docstore.WatchMessage{Type: docstore.MessageError, Error: err.Error()}
		}
		latest(updates, msg)
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer sub.Cancel()
	metricRequests.WithLabelValues("watch", "101").Inc()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, wsPingTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		case msg := <-updates:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

// latest replaces any undelivered message with msg. Every snapshot is a full
// result set, so only the newest one matters.
func latest(ch chan docstore.WatchMessage, msg docstore.WatchMessage) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
