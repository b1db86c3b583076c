// Package api serves environments to external policies over HTTP and
// WebSocket. Each HTTP session or WebSocket connection owns one environment;
// a contract violation in a step discards it.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/config"
	"github.com/talgya/socialgrid/internal/engine"
)

//go:embed actions.schema.json
var actionsSchemaJSON string

var actionsSchema = jsonschema.MustCompileString("mem://socialgrid/actions.schema.json", actionsSchemaJSON)

const maxBody = 1 << 20

// Options tunes a Server. Zero values pick defaults.
type Options struct {
	RateLimit   *RateLimitConfig
	CORSOrigins []string // "*" allows any origin
	MaxSessions int
}

type session struct {
	id  string
	mu  sync.Mutex
	env *engine.Environment
}

// Server hands out environments for one task configuration.
type Server struct {
	cfg     *config.Config
	opts    Options
	limiter *RateLimiter

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer creates a server for cfg. It starts no listeners.
func NewServer(cfg *config.Config, opts Options) *Server {
	rl := DefaultRateLimitConfig
	if opts.RateLimit != nil {
		rl = *opts.RateLimit
	}
	if opts.CORSOrigins == nil {
		opts.CORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 64
	}
	return &Server{
		cfg:      cfg,
		opts:     opts,
		limiter:  NewRateLimiter(rl),
		sessions: make(map[string]*session),
	}
}

// Close stops background work.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.limiter.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.sessionCount()})
	})
	r.Handle("/metrics", MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/task", s.handleTask)
		r.Get("/ws", s.handleWebSocket)
		r.Post("/sessions", s.handleCreate)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleDelete)
			r.Post("/reset", s.handleReset)
			r.Post("/step", s.handleStep)
			r.Get("/observations", s.handleObservations)
			r.Get("/social", s.handleSocial)
			r.Get("/mask/{agent}", s.handleMask)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP API starting", "addr", addr, "max_sessions", s.opts.MaxSessions)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("HTTP API stopping")
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

// ── Sessions ──

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) session(r *http.Request) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[chi.URLParam(r, "id")]
	return ss, ok
}

func (s *Server) discard(id, reason string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if ok {
		sessionsActive.Set(float64(n))
		slog.Info("session closed", "session", id, "reason", reason)
	}
}

type resetRequest struct {
	Seed int64 `json:"seed"`
}

type resetResponse struct {
	Session      string                        `json:"session,omitempty"`
	EpisodeID    int                           `json:"episode_id"`
	Observations map[string]engine.Observation `json:"observations"`
	Infos        map[string]engine.Info        `json:"infos"`
}

func decodeReset(r *http.Request) (resetRequest, error) {
	var req resetRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return req, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, nil
	}
	err = json.Unmarshal(body, &req)
	return req, err
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeReset(r)
	if err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if len(s.sessions) >= s.opts.MaxSessions {
		s.mu.Unlock()
		rejected.WithLabelValues("capacity").Inc()
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}
	ss := &session{id: uuid.New().String(), env: engine.NewEnvironment(s.cfg)}
	s.sessions[ss.id] = ss
	n := len(s.sessions)
	s.mu.Unlock()
	sessionsActive.Set(float64(n))

	ss.mu.Lock()
	defer ss.mu.Unlock()
	obs, infos, err := ss.env.Reset(req.Seed)
	if err != nil {
		s.discard(ss.id, "reset failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	episodesTotal.WithLabelValues("started").Inc()
	slog.Info("session opened", "session", ss.id, "seed", ss.env.Seed())
	writeJSON(w, http.StatusCreated, resetResponse{
		Session:      ss.id,
		EpisodeID:    ss.env.Episode(),
		Observations: obs,
		Infos:        infos,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	req, err := decodeReset(r)
	if err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	obs, infos, err := ss.env.Reset(req.Seed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	episodesTotal.WithLabelValues("started").Inc()
	writeJSON(w, http.StatusOK, resetResponse{
		Session:      ss.id,
		EpisodeID:    ss.env.Episode(),
		Observations: obs,
		Infos:        infos,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(r); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.discard(chi.URLParam(r, "id"), "deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	g := ss.env.Game()
	names := make([]string, len(g.Agents))
	for i, a := range g.Agents {
		names[i] = a.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    ss.id,
		"episode_id": ss.env.Episode(),
		"seed":       ss.env.Seed(),
		"step_id":    g.Steps,
		"max_length": g.MaxLength,
		"done":       g.Done(),
		"agents":     names,
		"groups":     len(g.Social.Groups()),
	})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	writeJSON(w, http.StatusOK, ss.env.Game().Observations(ss.env.Episode()))
}

func (s *Server) handleSocial(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	g := ss.env.Game()
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":  g.Social.Nodes(),
		"edges":  g.Social.Edges(),
		"groups": g.Social.Groups(),
	})
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	key := chi.URLParam(r, "agent")
	for _, a := range ss.env.Game().Agents {
		if a.Name == key || fmt.Sprint(a.ID) == key {
			writeJSON(w, http.StatusOK, ss.env.Game().Mask(a.ID))
			return
		}
	}
	http.Error(w, "agent not found", http.StatusNotFound)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"max_length":        s.cfg.Task.MaxLength,
		"players":           s.cfg.PlayerCount(),
		"resource_name":     s.cfg.ResourceNames(),
		"events":            s.cfg.Recipes(),
		"negotiation_steps": s.cfg.Task.Negotiation.NegotiationSteps,
		"actions":           agents.Tags(),
	})
}

// ── Stepping ──

// errSchema marks a request body that does not have the action wire shape.
var errSchema = errors.New("malformed step request")

// errEpisodeOver marks a step sent after the episode ended.
var errEpisodeOver = errors.New("episode is over")

// decodeActions validates a step body against the action schema.
func decodeActions(body []byte) (map[string]any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errSchema, err)
	}
	if err := actionsSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errSchema, err)
	}
	actions, _ := doc.(map[string]any)["actions"].(map[string]any)
	return actions, nil
}

// step runs one tick on env. A returned error that is neither errSchema nor
// errEpisodeOver is a contract violation.
func step(env *engine.Environment, actions map[string]any) (*engine.StepResult, error) {
	g := env.Game()
	if g == nil || g.Done() {
		return nil, errEpisodeOver
	}
	start := time.Now()
	res, err := env.StepRaw(actions)
	if err != nil {
		return nil, err
	}
	ObserveStep(env.Game(), time.Since(start))
	if res.Terminated[engine.AllKey] {
		episodesTotal.WithLabelValues("finished").Inc()
	}
	return res, nil
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	actions, err := decodeActions(body)
	if err != nil {
		rejected.WithLabelValues("schema").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ss.mu.Lock()
	res, err := step(ss.env, actions)
	ss.mu.Unlock()
	switch {
	case errors.Is(err, errEpisodeOver):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		rejected.WithLabelValues("contract").Inc()
		episodesTotal.WithLabelValues("discarded").Inc()
		s.discard(ss.id, "contract violation")
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}
