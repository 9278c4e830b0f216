package server

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/stupiduntilnot/pixelchat/internal/control"
	"github.com/stupiduntilnot/pixelchat/internal/db"
	"github.com/stupiduntilnot/pixelchat/internal/openai"
)

// errProviderUnavailable is returned when the circuit breaker refuses a call
// before the provider is even attempted. It maps to 503 instead of 502.
var errProviderUnavailable = errors.New("provider temporarily unavailable")

// callProvider runs fn behind the circuit breaker with per-attempt timeouts
// and exponential backoff. Auth failures are never retried: a bad key does
// not get better on the next attempt.
func (s *Server) callProvider(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !s.breaker.Allow(time.Now()) {
		s.log.Warn().Str("operation", operation).Msg("circuit open, refusing provider call")
		return errProviderUnavailable
	}

	attempts := 0
	for {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, s.policy.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			s.breaker.RecordSuccess()
			return nil
		}

		class := openai.ClassifyError(err)
		wasOpen := s.breaker.State() == control.CircuitOpen
		s.breaker.RecordFailure(class, time.Now())
		if !wasOpen && s.breaker.State() == control.CircuitOpen {
			s.logEvent(nil, db.EventCircuitOpened, map[string]any{
				"class":     class,
				"operation": operation,
			})
		}
		s.log.Warn().Err(err).
			Str("operation", operation).
			Str("class", class).
			Int("attempt", attempts).
			Msg("provider call failed")

		if class == "auth" || !control.ShouldRetry(s.policy, attempts) {
			return errors.Wrapf(err, "%s failed after %d attempts", operation, attempts)
		}
		select {
		case <-time.After(control.RetryBackoff(attempts)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refund returns a previously debited amount after a provider failure.
// Nothing was debited for a free operation, so nothing comes back.
func (s *Server) refund(userID string, amount int64, parent *int64) {
	if amount <= 0 {
		return
	}
	if err := db.Credit(s.db, userID, amount, "refund"); err != nil {
		s.log.Error().Err(err).Str("user", userID).Int64("amount", amount).Msg("refund failed")
		return
	}
	s.logEvent(parent, db.EventCreditsRefunded, map[string]any{
		"user":   userID,
		"amount": amount,
	})
}
