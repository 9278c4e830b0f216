package openai

import (
	"context"
	"errors"
	"net/http"

	api "github.com/sashabaranov/go-openai"
)

// ClassifyError maps a provider error to the failure class used by the
// circuit breaker. Classes group failures that should trip the breaker
// together: a burst of rate limits is a different condition than a burst of
// upstream 5xx responses.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return "rate_limit"
		case apiErr.HTTPStatusCode >= 500:
			return "provider_server"
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return "auth"
		default:
			return "provider_api"
		}
	}
	return "network"
}
