package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
	"github.com/stupiduntilnot/pixelchat/internal/db"
	"github.com/stupiduntilnot/pixelchat/internal/model"
)

type imageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Prompt    string `json:"prompt"`
	Size      string `json:"size,omitempty"`
}

type imageEditRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ImageURL  string `json:"image_url"`
	Prompt    string `json:"prompt"`
	Size      string `json:"size,omitempty"`
}

type imageResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Balance   int64  `json:"balance"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body imageRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body.Prompt = strings.TrimSpace(body.Prompt)
	if body.UserID == "" || body.Prompt == "" {
		http.Error(w, "user_id and prompt are required", http.StatusBadRequest)
		return
	}
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}

	rootID, ok := s.charge(w, body.UserID, s.cfg.ImageCost, "image")
	if !ok {
		return
	}

	// Image providers take a single prompt string, so the conversation goes
	// in as a narrative block ahead of the current request.
	turns := s.assembleContext(req.Context(), body.SessionID, body.Prompt)
	s.logEvent(&rootID, db.EventContextAssembled, map[string]any{
		"session": body.SessionID,
		"turns":   len(turns),
	})
	prompt := chatcontext.FormatAsNarrative(turns, s.cfg.ImageSystemPrompt) + body.Prompt

	if _, err := db.AppendTurn(s.db, body.SessionID, chatcontext.Turn{
		Role: chatcontext.RoleUser,
		Text: body.Prompt,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to append user turn")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	opts := model.ImageOptions{Size: body.Size}
	if opts.Size == "" {
		opts.Size = s.cfg.ImageSize
	}
	var data []byte
	err := s.callProvider(req.Context(), "image.generate", func(ctx context.Context) error {
		d, err := s.image.GenerateImage(ctx, prompt, opts)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		s.failProviderCall(w, err, body.UserID, s.cfg.ImageCost, &rootID)
		return
	}

	s.finishImage(w, body.SessionID, body.UserID, body.Prompt, data, &rootID, db.EventImageGenerated)
}

func (s *Server) handleEditImage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body imageEditRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body.Prompt = strings.TrimSpace(body.Prompt)
	if body.UserID == "" || body.Prompt == "" || body.ImageURL == "" {
		http.Error(w, "user_id, image_url and prompt are required", http.StatusBadRequest)
		return
	}

	folder, name, err := s.assets.ResolveURL(body.ImageURL)
	if err != nil {
		http.Error(w, "unknown image url", http.StatusBadRequest)
		return
	}
	// Edits continue the session the source image belongs to unless the
	// caller says otherwise.
	if body.SessionID == "" {
		body.SessionID = folder
	}
	source, err := s.assets.Read(folder, name)
	if err != nil {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}

	rootID, ok := s.charge(w, body.UserID, s.cfg.EditCost, "edit")
	if !ok {
		return
	}

	turns := s.assembleContext(req.Context(), body.SessionID, body.Prompt)
	s.logEvent(&rootID, db.EventContextAssembled, map[string]any{
		"session": body.SessionID,
		"turns":   len(turns),
	})
	prompt := chatcontext.FormatAsNarrative(turns, s.cfg.ImageSystemPrompt) + body.Prompt

	if _, err := db.AppendTurn(s.db, body.SessionID, chatcontext.Turn{
		Role: chatcontext.RoleUser,
		Text: body.Prompt,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to append user turn")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	opts := model.ImageOptions{Size: body.Size}
	if opts.Size == "" {
		opts.Size = s.cfg.ImageSize
	}
	var data []byte
	err = s.callProvider(req.Context(), "image.edit", func(ctx context.Context) error {
		d, err := s.image.EditImage(ctx, source, prompt, opts)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		s.failProviderCall(w, err, body.UserID, s.cfg.EditCost, &rootID)
		return
	}

	s.finishImage(w, body.SessionID, body.UserID, body.Prompt, data, &rootID, db.EventImageEdited)
}

// finishImage stores the produced bytes, appends the assistant turn carrying
// the image reference and writes the response.
func (s *Server) finishImage(w http.ResponseWriter, sessionID, userID, prompt string, data []byte, parent *int64, eventType string) {
	url, err := s.assets.Store(data, "image.png", sessionID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to store image")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if _, err := db.AppendTurn(s.db, sessionID, chatcontext.Turn{
		Role:       chatcontext.RoleAssistant,
		PromptText: prompt,
		ImageRef:   url,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to append image turn")
	}
	s.logEvent(parent, eventType, map[string]any{
		"session": sessionID,
		"url":     url,
		"bytes":   len(data),
	})

	balance, err := db.Balance(s.db, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("failed to read balance")
	}
	writeJSON(w, http.StatusOK, imageResponse{SessionID: sessionID, URL: url, Balance: balance})
}
