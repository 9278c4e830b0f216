package chatcontext

import (
	"context"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one stored chat entry: a user message, an assistant reply, or an
// assistant-generated image. Text carries the primary content; PromptText is
// the prompt an image was generated from and serves as display content when
// Text is empty.
type Turn struct {
	Role       string
	Text       string
	PromptText string
	ImageRef   string
	CreatedAt  time.Time
}

// Content resolves the display text of a turn: Text if non-blank, otherwise
// PromptText. A turn whose Content is empty carries nothing usable and is
// skipped during selection.
func (t Turn) Content() string {
	if s := strings.TrimSpace(t.Text); s != "" {
		return s
	}
	return strings.TrimSpace(t.PromptText)
}

// ContextTurn is one entry of an assembled context window.
type ContextTurn struct {
	Role     string
	Content  string
	ImageRef string
}

// TurnSource provides read access to a session's turn log, newest first.
// The underlying store is a network/database dependency and may fail; the
// assembler degrades to an empty context on any fetch error.
type TurnSource interface {
	FetchRecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}
