package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
)

// AppendTurn records one chat turn at the end of a session's log and returns
// its row id. CreatedAt defaults to now when zero.
func AppendTurn(database *sql.DB, sessionID string, t chatcontext.Turn) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := database.Exec(
		`INSERT INTO turns (session_id, role, text, prompt_text, image_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, t.Role, t.Text, t.PromptText, t.ImageRef, createdAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert turn for session %s: %w", sessionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get turn id: %w", err)
	}
	return id, nil
}

// DeleteSessionTurns removes a session's entire turn log.
func DeleteSessionTurns(database *sql.DB, sessionID string) error {
	if _, err := database.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns for session %s: %w", sessionID, err)
	}
	return nil
}

// TurnSource reads a session's turn log from SQLite. It implements
// chatcontext.TurnSource.
type TurnSource struct {
	DB *sql.DB
}

// FetchRecentTurns returns up to limit turns of a session, newest first.
// Ties on created_at fall back to insertion order.
func (s *TurnSource) FetchRecentTurns(ctx context.Context, sessionID string, limit int) ([]chatcontext.Turn, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT role, text, prompt_text, image_ref, created_at
		 FROM turns WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var turns []chatcontext.Turn
	for rows.Next() {
		var t chatcontext.Turn
		var createdAt int64
		if err := rows.Scan(&t.Role, &t.Text, &t.PromptText, &t.ImageRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
