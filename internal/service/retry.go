package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/evento/internal/database"
)

// retryable reports whether a failed transaction may succeed if replayed
// from the start: lock contention, or a unique violation on a freshly
// generated value.
func retryable(err error) bool {
	return database.IsRetryable(err) || database.IsUniqueViolation(err)
}

// withRetry runs fn up to attempts times while it fails with a retryable
// error. fn must own its whole transaction so a replay starts clean.
func withRetry(ctx context.Context, log *slog.Logger, op string, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		log.WarnContext(ctx, "retrying after integrity failure", "op", op, "attempt", i, "err", err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i*i) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrRetriesExhausted, err)
}
