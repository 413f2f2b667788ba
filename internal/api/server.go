// Package api serves the read paths over JSON/HTTP: latest and top scores,
// platform metrics, markets due for sync, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rewired-gh/seismo/internal/cache"
	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/storage"
)

const (
	defaultTopLimit = 20
	maxTopLimit     = 100
	maxDueLimit     = 1000
)

// Store is the subset of storage the read API needs.
type Store interface {
	LatestScore(ctx context.Context, eventID string, window models.Window) (*models.Score, error)
	TopScores(ctx context.Context, window models.Window, limit int) ([]*models.Score, error)
	LatestPlatformMetrics(ctx context.Context, window models.Window) (*models.PlatformMetrics, error)
	MarketsDueForSync(ctx context.Context, tier models.Tier, staleBeforeMs int64, limit int) ([]*models.SyncState, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the read API.
type Server struct {
	config Config
	store  Store
	cache  cache.Cache
	now    func() time.Time
	srv    *http.Server
}

// NewServer creates a Server. cache may be nil.
func NewServer(config Config, store Store, c cache.Cache) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{config: config, store: store, cache: c, now: time.Now}
	s.srv = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/scores/{eventID}/{window}", s.handleScore)
	mux.HandleFunc("GET /v1/scores", s.handleTopScores)
	mux.HandleFunc("GET /v1/platform/{window}", s.handlePlatform)
	mux.HandleFunc("GET /v1/sync/due", s.handleSyncDue)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown: %v", err)
		}
	}()

	logger.Info("http server listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	logger.Error("api: %s: %v", what, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// cached serves key from the cache, or loads, stores and returns it.
func cached[T any](ctx context.Context, c cache.Cache, key string, load func() (T, error)) (T, error) {
	var v T
	if c != nil {
		found, err := c.Get(ctx, key, &v)
		if err != nil {
			logger.Debug("cache get %s: %v", key, err)
		}
		observability.RecordCacheLookup(found && err == nil)
		if found && err == nil {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if c != nil {
		if err := c.Set(ctx, key, v); err != nil {
			logger.Debug("cache set %s: %v", key, err)
		}
	}
	return v, nil
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	window, err := models.ParseWindow(r.PathValue("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventID := r.PathValue("eventID")
	ctx := r.Context()

	sc, err := cached(ctx, s.cache, cache.ScoreKey(window, eventID), func() (*models.Score, error) {
		return s.store.LatestScore(ctx, eventID, window)
	})
	if err != nil {
		s.writeStoreError(w, err, "score")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type topResponse struct {
	Window models.Window   `json:"window"`
	Scores []*models.Score `json:"scores"`
}

func (s *Server) handleTopScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := models.Window24h
	if raw := q.Get("window"); raw != "" {
		w2, err := models.ParseWindow(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		window = w2
	}
	limit, err := parseLimit(q.Get("limit"), defaultTopLimit, maxTopLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	scores, err := cached(ctx, s.cache, cache.TopKey(window, limit), func() ([]*models.Score, error) {
		return s.store.TopScores(ctx, window, limit)
	})
	if err != nil {
		s.writeStoreError(w, err, "scores")
		return
	}
	if scores == nil {
		scores = []*models.Score{}
	}
	writeJSON(w, http.StatusOK, topResponse{Window: window, Scores: scores})
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	window, err := models.ParseWindow(r.PathValue("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	pm, err := cached(ctx, s.cache, cache.PlatformKey(window), func() (*models.PlatformMetrics, error) {
		return s.store.LatestPlatformMetrics(ctx, window)
	})
	if err != nil {
		s.writeStoreError(w, err, "platform metrics")
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

type dueResponse struct {
	Tier    models.Tier         `json:"tier"`
	Markets []*models.SyncState `json:"markets"`
}

func (s *Server) handleSyncDue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier, err := models.ParseTier(q.Get("tier"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var stale time.Duration
	if raw := q.Get("stale"); raw != "" {
		stale, err = time.ParseDuration(raw)
		if err != nil || stale < 0 {
			writeError(w, http.StatusBadRequest, "stale must be a non-negative duration")
			return
		}
	}
	limit, err := parseLimit(q.Get("limit"), maxDueLimit, maxDueLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	states, err := s.store.MarketsDueForSync(r.Context(), tier, s.now().Add(-stale).UnixMilli(), limit)
	if err != nil {
		s.writeStoreError(w, err, "sync state")
		return
	}
	if states == nil {
		states = []*models.SyncState{}
	}
	writeJSON(w, http.StatusOK, dueResponse{Tier: tier, Markets: states})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.cache != nil {
		if err := s.cache.Health(r.Context()); err != nil {
			resp["cache"] = "degraded: " + err.Error()
		} else {
			resp["cache"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseLimit(raw string, def, upper int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(upper))
	}
	return n, nil
}
