package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/pixelchat/internal/chatcontext"
)

// TextResult is the common response model for text providers.
type TextResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// TextGenerator is the chat-completion provider abstraction used by the server.
type TextGenerator interface {
	GenerateText(ctx context.Context, messages []ctxpkg.Message) (TextResult, error)
}

// ImageOptions carries per-call image parameters; empty fields use the
// provider's defaults.
type ImageOptions struct {
	Size   string
	Format string
}

// ImageGenerator is the image provider abstraction used by the server.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) ([]byte, error)
	EditImage(ctx context.Context, image []byte, prompt string, opts ImageOptions) ([]byte, error)
}
