package httpapi

import (
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sgazanfar/avatar-ai-serverless/internal/pipeline"
	"github.com/sgazanfar/avatar-ai-serverless/internal/protocol"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service":     "avatar-ai-serverless",
		"status":      "running",
		"environment": s.cfg.Environment,
		"websocket":   "/ws/{user_id}",
	})
}

// handleHealth merges the server view with per-dependency probes. The
// top-level status degrades as soon as any configured dependency fails,
// while missing optional backends stay "not configured".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := s.orch.Health(r.Context())

	status := "healthy"
	for _, state := range services {
		if strings.HasPrefix(state, "unhealthy") {
			status = "degraded"
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":             status,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"environment":        s.cfg.Environment,
		"active_connections": s.registry.ActiveCount(),
		"services":           services,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.registry.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"active_connections":  snap.TotalConnections,
		"connected_users":     snap.Users,
		"connection_metadata": snap.Metadata,
		"environment":         s.cfg.Environment,
		"stage_latency":       s.metrics.SnapshotStages(),
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"openai_voices":       []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		"avatar_types":        []string{"male", "female"},
		"default_voice":       protocol.DefaultVoice,
		"default_avatar_type": protocol.DefaultAvatarType,
	})
}

// handleTestText runs the text pipeline without a websocket, for smoke
// tests and frontend development.
func (s *Server) handleTestText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		Text       string `json:"text"`
		Voice      string `json:"voice"`
		AvatarType string `json:"avatar_type"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "test_user_" + uuid.NewString()[:8]
	}
	if req.Voice == "" {
		req.Voice = protocol.DefaultVoice
	}
	if req.AvatarType == "" {
		req.AvatarType = protocol.DefaultAvatarType
	}

	res, err := s.orch.ProcessText(r.Context(), pipeline.Request{
		UserID:     req.UserID,
		Text:       req.Text,
		Voice:      req.Voice,
		AvatarType: req.AvatarType,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "pipeline_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":          req.UserID,
		"user_input":       res.UserInput,
		"response":         res.Text,
		"avatar_video_url": res.VideoURL,
		"tokens_used":      res.TokensUsed,
		"processing_ms":    res.Elapsed.Milliseconds(),
		"cache_hit":        res.CacheHit,
		"partial":          res.Partial,
	})
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	sess, err := s.registry.Get(userID)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"user_id":   userID,
			"connected": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"connected": true,
		"session":   sess,
	})
}

func (s *Server) handleDisconnectUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	conn, err := s.registry.Lookup(userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user_not_connected", "no active session for user "+userID)
		return
	}

	s.registry.Unregister(userID)
	_ = conn.Close()
	s.metrics.IncSessionEvent("disconnected")
	s.metrics.SetActiveSessions(s.registry.ActiveCount())

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "user " + userID + " disconnected",
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"environment":        s.cfg.Environment,
		"go_version":         runtime.Version(),
		"provider":           s.cfg.AIProvider,
		"active_connections": s.registry.ActiveCount(),
		"features": map[string]bool{
			"openai":   s.cfg.OpenAIAPIKey != "",
			"d_id":     s.cfg.DIDAPIKey != "",
			"redis":    s.cfg.RedisURL != "",
			"database": s.cfg.DatabaseURL != "",
		},
	})
}
