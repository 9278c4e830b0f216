package server

import (
	"net/http"
	"strings"

	"github.com/stupiduntilnot/pixelchat/internal/db"
)

type creditEntryDoc struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	CreatedAt int64  `json:"created_at"`
}

type balanceResponse struct {
	UserID  string           `json:"user_id"`
	Balance int64            `json:"balance"`
	Entries []creditEntryDoc `json:"entries,omitempty"`
}

type grantRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCredits(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(req.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	balance, err := db.Balance(s.db, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("failed to read balance")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := balanceResponse{UserID: userID, Balance: balance}
	entries, err := db.ListCreditEntries(s.db, userID, 50)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("failed to list credit entries")
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, creditEntryDoc{
			Amount:    e.Delta,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body grantRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body.UserID = strings.TrimSpace(body.UserID)
	if body.UserID == "" || body.Amount <= 0 {
		http.Error(w, "user_id and a positive amount are required", http.StatusBadRequest)
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "grant"
	}
	if err := db.Credit(s.db, body.UserID, body.Amount, reason); err != nil {
		s.log.Error().Err(err).Str("user", body.UserID).Msg("grant failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logEvent(nil, db.EventCreditsGranted, map[string]any{
		"user":   body.UserID,
		"amount": body.Amount,
		"reason": reason,
	})
	balance, err := db.Balance(s.db, body.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", body.UserID).Msg("failed to read balance")
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: body.UserID, Balance: balance})
}
