package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stupiduntilnot/pixelchat/internal/db"
)

type turnDoc struct {
	Role       string `json:"role"`
	Text       string `json:"text,omitempty"`
	PromptText string `json:"prompt_text,omitempty"`
	ImageRef   string `json:"image_ref,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func (s *Server) handleSession(w http.ResponseWriter, req *http.Request) {
	sessionID, action, ok := parseSessionPath(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}

	switch {
	case action == "turns" && req.Method == http.MethodGet:
		s.listSessionTurns(w, req, sessionID)
	case action == "" && req.Method == http.MethodDelete:
		s.deleteSession(w, req, sessionID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listSessionTurns(w http.ResponseWriter, req *http.Request, sessionID string) {
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	source := &db.TurnSource{DB: s.db}
	turns, err := source.FetchRecentTurns(req.Context(), sessionID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("failed to list turns")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// Fetch order is newest first; the API returns chronological order.
	docs := make([]turnDoc, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		docs = append(docs, turnDoc{
			Role:       t.Role,
			Text:       t.Text,
			PromptText: t.PromptText,
			ImageRef:   t.ImageRef,
			CreatedAt:  t.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) deleteSession(w http.ResponseWriter, req *http.Request, sessionID string) {
	if err := db.DeleteSessionTurns(s.db, sessionID); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("failed to delete turns")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.assets.DeleteFolder(sessionID); err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to delete session assets")
	}
	s.logEvent(nil, db.EventSessionDeleted, map[string]any{
		"session": sessionID,
		"at":      time.Now().Unix(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAsset(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	const prefix = "/assets/"
	rest := strings.TrimPrefix(req.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, req)
		return
	}
	data, err := s.assets.Read(parts[0], parts[1])
	if err != nil {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

func parseSessionPath(path string) (string, string, bool) {
	const prefix = "/api/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(path, prefix))
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	sessionID := strings.TrimSpace(parts[0])
	if sessionID == "" {
		return "", "", false
	}
	action := ""
	if len(parts) == 2 {
		action = strings.TrimSpace(parts[1])
	}
	return sessionID, action, true
}
