package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sgazanfar/avatar-ai-serverless/internal/config"
	"github.com/sgazanfar/avatar-ai-serverless/internal/dispatch"
	"github.com/sgazanfar/avatar-ai-serverless/internal/observability"
	"github.com/sgazanfar/avatar-ai-serverless/internal/pipeline"
	"github.com/sgazanfar/avatar-ai-serverless/internal/protocol"
	"github.com/sgazanfar/avatar-ai-serverless/internal/session"
)

const welcomeMessage = "Connected to Avatar AI! Ready to chat."

// maxFrameBytes bounds one inbound frame. Audio arrives base64-encoded
// inside JSON, so a short voice clip fits comfortably under a megabyte.
const maxFrameBytes = 1 << 20

const writeTimeout = 10 * time.Second

// Orchestrator is the pipeline surface the HTTP layer consumes.
type Orchestrator interface {
	ProcessText(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Health(ctx context.Context) map[string]string
}

type Server struct {
	cfg        config.Config
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	orch       Orchestrator
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, dispatcher *dispatch.Dispatcher, orch Orchestrator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		orch:       orch,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The browser frontend is usually served from a different
				// origin than this API, so any origin is allowed by default.
				// With APP_ALLOW_ANY_ORIGIN=false only same-origin browsers
				// may open a socket.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				return sameHost(origin, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/voices", s.handleVoices)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/{user_id}", s.handleWebSocket)

	r.Post("/api/test-text", s.handleTestText)
	r.Get("/api/user/{user_id}/status", s.handleUserStatus)
	r.Delete("/api/user/{user_id}/disconnect", s.handleDisconnectUser)
	r.Get("/api/system/info", s.handleSystemInfo)

	return r
}

// handleWebSocket owns one connection for its whole lifetime: register,
// welcome, then read frames until the peer goes away. Frames are dispatched
// serially, so a client always sees the response to one input before the
// next input is processed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	wsc := &wsConn{conn: conn}
	s.registry.Register(userID, wsc)
	s.metrics.IncSessionEvent("connected")
	s.metrics.SetActiveSessions(s.registry.ActiveCount())
	log.Printf("httpapi: user %s connected (%d active)", userID, s.registry.ActiveCount())

	if err := wsc.Send(protocol.NewSystem(welcomeMessage, userID)); err != nil {
		log.Printf("httpapi: welcome to user %s failed: %v", userID, err)
	}

	conn.SetReadLimit(maxFrameBytes)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatcher.HandleFrame(r.Context(), userID, data)
	}

	// Drop only if this handle is still the registered one; a reconnect
	// may have replaced it while the pipeline was running.
	if s.registry.Drop(userID, wsc) {
		s.metrics.IncSessionEvent("disconnected")
		s.metrics.SetActiveSessions(s.registry.ActiveCount())
		log.Printf("httpapi: user %s disconnected (%d active)", userID, s.registry.ActiveCount())
	}
	_ = wsc.Close()
}

// wsConn serializes writes to one websocket connection. gorilla/websocket
// permits only a single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (s.cfg.AllowAnyOrigin || sameHost(origin, r.Host)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "300")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
