// Package server exposes a docstore.Store over HTTP: bearer-token protected
// document endpoints, live queries over websocket, a client-credentials
// token endpoint and Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tiliavir/telesales-timesheet/internal/auth"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

const (
	defaultTokenTTL = time.Hour
	maxBodyBytes    = 1 << 20
)

// Client is a registered client-credentials pair and the identity tokens
// issued to it carry.
type Client struct {
	Secret   string
	Identity auth.Identity
}

// Server serves a document store.
type Server struct {
	store    docstore.Store
	tokens   *auth.TokenManager
	clients  map[string]Client
	tokenTTL time.Duration
	log      *slog.Logger
}

// New returns a server for store. clients maps client ids to credentials.
func New(store docstore.Store, tokens *auth.TokenManager, clients map[string]Client, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:    store,
		tokens:   tokens,
		clients:  clients,
		tokenTTL: defaultTokenTTL,
		log:      log,
	}
}

// SetTokenTTL changes the lifetime of issued tokens.
func (s *Server) SetTokenTTL(d time.Duration) {
	if d > 0 {
		s.tokenTTL = d
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/oauth/token", s.handleToken)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/documents", s.handleQuery)
		r.Get("/documents/{key}", s.handleGet)
		r.Put("/documents/{key}", s.handlePut)
		r.Patch("/documents/{key}", s.handlePatch)
		r.Delete("/documents/{key}", s.handleDelete)
		r.Get("/watch", s.handleWatch)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("document store listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if gt := r.PostForm.Get("grant_type"); gt != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	client, found := s.clients[id]
	if !found || subtle.ConstantTimeCompare([]byte(secret), []byte(client.Secret)) != 1 {
		metricRequests.WithLabelValues("token", "401").Inc()
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	token, exp, err := s.tokens.Issue(client.Identity, s.tokenTTL)
	if err != nil {
		s.log.Error("issue token failed", "client", id, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	metricTokensIssued.Inc()
	metricRequests.WithLabelValues("token", "200").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(time.Until(exp).Seconds()),
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.Validate(auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			metricRequests.WithLabelValues("auth", "401").Inc()
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), claims.Identity())))
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// queryFrom reads equality filters from URL parameters.
func queryFrom(r *http.Request) docstore.Query {
	q := docstore.Query{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			q[k] = vs[0]
		}
	}
	return q
}

// canQuery limits agents to queries scoped to their own documents.
func canQuery(id auth.Identity, q docstore.Query) bool {
	if id.Role == auth.RoleSupervisor {
		return true
	}
	return q["userId"] == id.ID
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := queryFrom(r)
	if !canQuery(identity(r), q) {
		s.fail(w, "query", auth.ErrForbidden)
		return
	}
	docs, err := s.store.Query(r.Context(), q)
	if err != nil {
		s.fail(w, "query", err)
		return
	}
	s.ok(w, "query", docs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !identity(r).CanWrite(key) {
		s.fail(w, "get", auth.ErrForbidden)
		return
	}
	d, err := s.store.Get(r.Context(), key)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	s.ok(w, "get", d)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, "put", s.store.Put)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, "patch", s.store.Patch)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, string, map[string]any) (docstore.Document, error)) {
	key := chi.URLParam(r, "key")
	id := identity(r)
	if !id.CanWrite(key) {
		s.fail(w, op, auth.ErrForbidden)
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&fields); err != nil {
		metricRequests.WithLabelValues(op, "400").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if id.Role != auth.RoleSupervisor && !agentMayWrite(id, fields) {
		s.fail(w, op, auth.ErrForbidden)
		return
	}
	d, err := apply(r.Context(), key, fields)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	s.log.Debug("document written", "op", op, "doc", key, "by", id.ID)
	s.ok(w, op, d)
}

// agentMayWrite keeps ownership and approvals out of agent writes.
func agentMayWrite(id auth.Identity, fields map[string]any) bool {
	if v, ok := fields["userId"]; ok && v != id.ID {
		return false
	}
	if v, ok := fields["reviewStatus"].(string); ok {
		if r, _ := model.ParseReviewStatus(v); r == model.ReviewApproved {
			return false
		}
	}
	if v, ok := fields["status"].(string); ok {
		if st, _ := model.ParseStatus(v); st == model.StatusApproved {
			return false
		}
	}
	return true
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !identity(r).CanWrite(key) {
		s.fail(w, "delete", auth.ErrForbidden)
		return
	}
	if err := s.store.Delete(r.Context(), key); err != nil {
		s.fail(w, "delete", err)
		return
	}
	metricRequests.WithLabelValues("delete", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ok(w http.ResponseWriter, op string, v any) {
	metricRequests.WithLabelValues(op, "200").Inc()
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	metricRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	if code >= 500 {
		s.log.Error("document store request failed", "op", op, "error", err)
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, docstore.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
