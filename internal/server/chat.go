package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
	"github.com/stupiduntilnot/pixelchat/internal/db"
	"github.com/stupiduntilnot/pixelchat/internal/model"
	"github.com/stupiduntilnot/pixelchat/internal/openai"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID    string `json:"session_id"`
	Reply        string `json:"reply"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Balance      int64  `json:"balance"`
}

func (s *Server) handleChat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body chatRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body.Message = strings.TrimSpace(body.Message)
	if body.UserID == "" || body.Message == "" {
		http.Error(w, "user_id and message are required", http.StatusBadRequest)
		return
	}
	// A missing session id starts a fresh session; the caller learns the id
	// from the response.
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}

	rootID, ok := s.charge(w, body.UserID, s.cfg.ChatCost, "chat")
	if !ok {
		return
	}

	// Context is assembled from history only; the current message rides
	// separately at the end of the prompt.
	turns := s.assembleContext(req.Context(), body.SessionID, body.Message)
	s.logEvent(&rootID, db.EventContextAssembled, map[string]any{
		"session": body.SessionID,
		"turns":   len(turns),
	})

	if _, err := db.AppendTurn(s.db, body.SessionID, chatcontext.Turn{
		Role: chatcontext.RoleUser,
		Text: body.Message,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to append user turn")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	messages := chatcontext.FormatForChatAPI(turns, s.cfg.ChatSystemPrompt)
	messages = append(messages, chatcontext.Message{Role: chatcontext.RoleUser, Content: body.Message})

	var result model.TextResult
	err := s.callProvider(req.Context(), "chat", func(ctx context.Context) error {
		r, err := s.text.GenerateText(ctx, messages)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.failProviderCall(w, err, body.UserID, s.cfg.ChatCost, &rootID)
		return
	}

	if _, err := db.AppendTurn(s.db, body.SessionID, chatcontext.Turn{
		Role: chatcontext.RoleAssistant,
		Text: result.Content,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to append assistant turn")
	}
	s.logEvent(&rootID, db.EventReplySent, map[string]any{
		"session":       body.SessionID,
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
	})

	balance, err := db.Balance(s.db, body.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", body.UserID).Msg("failed to read balance")
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:    body.SessionID,
		Reply:        result.Content,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		Balance:      balance,
	})
}

func (s *Server) assembleContext(ctx context.Context, sessionID, currentText string) []chatcontext.ContextTurn {
	if s.cfg.UseRelevantContext {
		return s.assembler.SelectRelevant(ctx, sessionID, currentText, s.cfg.MaxWords)
	}
	return s.assembler.SelectRecent(ctx, sessionID, s.cfg.MaxWords)
}

// charge debits the operation cost up front and records the billing events.
// A zero cost (free tier) skips the ledger entirely. On an insufficient
// balance it writes the 402 itself and returns ok=false. The returned event
// id is the root for this request's event subtree.
func (s *Server) charge(w http.ResponseWriter, userID string, cost int64, operation string) (int64, bool) {
	rootID := s.logEvent(nil, db.EventMessageReceived, map[string]any{
		"user":      userID,
		"operation": operation,
	})
	if cost <= 0 {
		return rootID, true
	}
	if err := db.Debit(s.db, userID, cost, operation); err != nil {
		if errors.Is(err, db.ErrInsufficientCredits) {
			s.logEvent(&rootID, db.EventCreditsRejected, map[string]any{
				"user":      userID,
				"operation": operation,
				"cost":      cost,
			})
			http.Error(w, "insufficient credits", http.StatusPaymentRequired)
			return 0, false
		}
		s.log.Error().Err(err).Str("user", userID).Msg("debit failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return 0, false
	}
	s.logEvent(&rootID, db.EventCreditsDebited, map[string]any{
		"user":      userID,
		"operation": operation,
		"cost":      cost,
	})
	return rootID, true
}

// failProviderCall refunds the debit, records the failure and writes the
// error response: 503 when the breaker refused the call, 502 otherwise.
func (s *Server) failProviderCall(w http.ResponseWriter, err error, userID string, cost int64, parent *int64) {
	s.refund(userID, cost, parent)
	s.logEvent(parent, db.EventProviderFailed, map[string]any{
		"error": err.Error(),
		"class": openai.ClassifyError(errors.Cause(err)),
	})
	if errors.Is(err, errProviderUnavailable) {
		http.Error(w, "provider temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "provider request failed", http.StatusBadGateway)
}
