package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/domain/service"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
	"github.com/jessson/mev-dashboard/internal/infrastructure/registry"
	"github.com/jessson/mev-dashboard/internal/lib/auth"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// HealthChecker reports whether the durable store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ChainLister lists the chains the dashboard knows.
type ChainLister interface {
	Chains() []registry.Chain
}

// Deps is everything the routes read from.
type Deps struct {
	Dashboard *service.Dashboard
	Store     HealthChecker
	Chains    ChainLister
	Hub       useCases.Broadcaster
	Metrics   http.Handler // optional
	Verifier  useCases.TokenVerifier
	Log       *slog.Logger
}

// Server represents an HTTP server with all routes configured
type Server struct {
	dash     *service.Dashboard
	store    HealthChecker
	chains   ChainLister
	hub      useCases.Broadcaster
	metrics  http.Handler
	verifier useCases.TokenVerifier
	log      *slog.Logger
	mux      *http.ServeMux
	server   *http.Server
}

// NewServer creates a new HTTP server with configured routes
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		dash:     deps.Dashboard,
		store:    deps.Store,
		chains:   deps.Chains,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		verifier: deps.Verifier,
		log:      deps.Log.With(slog.String("component", "http")),
		mux:      mux,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	// public
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /welcome", s.handleWelcome)
	s.mux.HandleFunc("GET /chains", s.handleChains)
	if s.hub != nil {
		s.mux.HandleFunc("GET /ws", s.hub.Handler())
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	// authenticated
	s.handleAuth("POST /trade", s.handleCreateTrade)
	s.handleAuth("GET /history", s.handleHistory)
	s.handleAuth("GET /trades", s.handleTrades)
	s.handleAuth("GET /trade/{hash}", s.handleTradeByHash)

	s.handleAuth("GET /profits", s.handleProfits)
	s.handleAuth("GET /profits/{chain}", s.handleChainProfit)
	s.handleAuth("GET /tags/{chain}", s.handleTags)
	s.handleAuth("GET /tokens", s.handleAllTokens)
	s.handleAuth("GET /tokens/top", s.handleTopTokens)
	s.handleAuth("GET /tokens/{chain}", s.handleChainTokens)
	s.handleAuth("GET /token/{chain}/{addr}", s.handleToken)

	s.handleAuth("POST /warning", s.handleCreateWarning)
	s.handleAuth("GET /warnings", s.handleWarnings)
	s.handleAuth("GET /warnings/stats", s.handleWarningStats)
	s.handleAuth("GET /warning/{id}", s.handleWarningByID)
	s.handleAuth("DELETE /warning/{id}", s.handleDeleteWarning)
	s.handleAuth("POST /warnings/delete", s.handleDeleteWarnings)
	s.handleAuth("DELETE /warnings", s.handleClearWarnings)

	s.handleAuth("POST /node/status", s.handleNodeUpdate)
	s.handleAuth("GET /node/status", s.handleNodeReport)
	s.handleAuth("GET /node/status/{chain}", s.handleNodeStatus)

	s.handleAuth("POST /admin/rebuild", s.handleRebuild)
	s.handleAuth("GET /admin/cache-stats", s.handleCacheStats)
	s.handleAuth("POST /admin/clear", s.handleClear)
	s.handleAuth("POST /admin/retention", s.handleRetention)
}

// handleAuth registers a route that requires a valid token. Without a verifier the route is open.
func (s *Server) handleAuth(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if s.verifier != nil && !s.verifier.Verify(auth.TokenFromRequest(r)) {
			s.writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		h(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"status": "ok", "scheduler": s.dash.Scheduler.State().String()}
	if s.store != nil {
		if err := s.store.Health(ctx); err != nil {
			// The cache keeps serving; the store is reported degraded.
			body["status"] = "degraded"
			body["store"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.WelcomeStats()))
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		s.writeJSON(w, http.StatusOK, dataBody([]registry.Chain{}))
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(s.chains.Chains()))
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	report := s.dash.Scheduler.RunRebuild(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"success": len(report.Failed) == 0, "data": report})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.CacheStats()))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.dash.ClearAll(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	n, err := s.dash.Scheduler.RunRetention(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := sonnet.NewDecoder(r.Body).Decode(v); err != nil {
		return &badRequest{err: err}
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonnet.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", sl.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", sl.Err(err))
	}
	s.writeJSON(w, status, errorBody(err.Error()))
}

type badRequest struct{ err error }

func (e *badRequest) Error() string { return "invalid body: " + e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func dataBody(v any) map[string]any {
	return map[string]any{"success": true, "data": v}
}

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func chainParam(r *http.Request) string {
	return strings.ToUpper(r.PathValue("chain"))
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
