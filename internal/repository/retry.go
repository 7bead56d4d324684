package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	defaultRetryAttempts = 3
	retryBaseDelay       = 100 * time.Millisecond
	retryMaxDelay        = 2 * time.Second
)

// WithRetry runs fn with bounded exponential backoff, retrying only transient
// store errors (connection loss, timeouts, deadlocks). Constraint-class
// errors surface immediately.
func WithRetry(ctx context.Context, logger *zap.Logger, label string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= defaultRetryAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransientStoreError(lastErr) {
			return lastErr
		}
		if attempt == defaultRetryAttempts {
			break
		}

		delay := retryDelay(attempt)
		logger.Warn("transient store error, retrying",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", label, lastErr)
}

func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// SQLSTATE class prefixes. Class 08 is connection failure, 40 transaction
// rollback (deadlock/serialization), 53 insufficient resources, 57 operator
// intervention; class 23 is integrity constraint violation and must never be
// retried.
const (
	sqlstateClassConnection   = "08"
	sqlstateClassRollback     = "40"
	sqlstateClassResources    = "53"
	sqlstateClassIntervention = "57"
	sqlstateClassIntegrity    = "23"
)

func IsTransientStoreError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case sqlstateClassIntegrity:
			return false
		case sqlstateClassConnection, sqlstateClassRollback, sqlstateClassResources, sqlstateClassIntervention:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Driver-level disconnects sometimes surface as plain errors.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
