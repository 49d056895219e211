package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
)

const maxConflictAttempts = 5

// retryOnConflict re-runs fn while it loses an optimistic version check or a
// unique-key race. fn must re-read everything it writes.
func retryOnConflict(ctx context.Context, log *zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		err = fn(ctx)
		if !isConflict(err) {
			return err
		}
		log.Debug().Str("op", op).Int("attempt", attempt).Err(err).Msg("write conflict, retrying")

		backoff := time.Duration(attempt*attempt) * 5 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	log.Warn().Str("op", op).Err(err).Msg("giving up after repeated write conflicts")
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrAlreadyExists)
}
