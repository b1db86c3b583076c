package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/socialgrid/internal/engine"
)

// wsRequest is a client message. Type is "reset", "step" or "observe".
type wsRequest struct {
	Type    string          `json:"type"`
	Seed    int64           `json:"seed,omitempty"`
	Actions json.RawMessage `json:"actions,omitempty"`
}

// wsResponse answers one request. Type echoes the request, or is "error".
type wsResponse struct {
	Type         string                        `json:"type"`
	EpisodeID    int                           `json:"episode_id"`
	Observations map[string]engine.Observation `json:"observations,omitempty"`
	Infos        map[string]engine.Info        `json:"infos,omitempty"`
	Result       *engine.StepResult            `json:"result,omitempty"`
	Error        string                        `json:"error,omitempty"`
	Fatal        bool                          `json:"fatal,omitempty"`
}

func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pat := range s.opts.CORSOrigins {
		if pat == "*" || pat == origin {
			return true
		}
		if prefix, ok := strings.CutSuffix(pat, "*"); ok && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	rejected.WithLabelValues("origin").Inc()
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16384,
		CheckOrigin:     s.allowOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBody)

	sessionsActive.Inc()
	defer sessionsActive.Dec()
	ip := ClientIP(r)
	slog.Info("websocket session opened", "ip", ip)

	env := engine.NewEnvironment(s.cfg)
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "ip", ip, "error", err)
			}
			return
		}
		if !s.limiter.Allow(ip) {
			rejected.WithLabelValues("rate_limit").Inc()
			if !send(conn, wsResponse{Type: "error", EpisodeID: env.Episode(), Error: "rate limit exceeded"}) {
				return
			}
			continue
		}

		resp, fatal := s.serveMessage(env, req)
		if !send(conn, resp) || fatal {
			if fatal {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "contract violation"),
					time.Now().Add(time.Second))
				slog.Info("websocket session discarded", "ip", ip, "error", resp.Error)
			}
			return
		}
	}
}

// serveMessage handles one request. fatal reports a contract violation.
func (s *Server) serveMessage(env *engine.Environment, req wsRequest) (wsResponse, bool) {
	fail := func(err error) wsResponse {
		return wsResponse{Type: "error", EpisodeID: env.Episode(), Error: err.Error()}
	}
	switch req.Type {
	case "reset":
		obs, infos, err := env.Reset(req.Seed)
		if err != nil {
			return fail(err), false
		}
		episodesTotal.WithLabelValues("started").Inc()
		return wsResponse{Type: "reset", EpisodeID: env.Episode(), Observations: obs, Infos: infos}, false

	case "observe":
		if env.Game() == nil {
			return fail(errors.New("observe before reset")), false
		}
		return wsResponse{Type: "observe", EpisodeID: env.Episode(), Observations: env.Game().Observations(env.Episode())}, false

	case "step":
		body, _ := json.Marshal(map[string]json.RawMessage{"actions": req.Actions})
		if len(req.Actions) == 0 {
			body = []byte(`{"actions":{}}`)
		}
		actions, err := decodeActions(body)
		if err != nil {
			rejected.WithLabelValues("schema").Inc()
			return fail(err), false
		}
		res, err := step(env, actions)
		if errors.Is(err, errEpisodeOver) {
			return fail(err), false
		}
		if err != nil {
			rejected.WithLabelValues("contract").Inc()
			episodesTotal.WithLabelValues("discarded").Inc()
			r := fail(err)
			r.Fatal = true
			return r, true
		}
		return wsResponse{Type: "step", EpisodeID: env.Episode(), Result: res}, false
	}
	return fail(errors.New("unknown message type " + req.Type)), false
}

func send(conn *websocket.Conn, resp wsResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(resp); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
