package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Backoff retries persistence calls that failed on a transient connectivity
// error. Attempt 1 runs immediately, attempt n waits BaseDelay*2^(n-2), capped
// at MaxDelay. Any other error, and the last failure, is returned unchanged.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    *slog.Logger

	// Transient overrides IsTransient; tests use it to force retries.
	Transient func(error) bool
}

func DefaultBackoff(logger *slog.Logger) *Backoff {
	return &Backoff{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Logger:    logger,
	}
}

func (b *Backoff) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := b.BaseDelay << (attempt - 2)
	if b.MaxDelay > 0 && (d > b.MaxDelay || d <= 0) {
		d = b.MaxDelay
	}
	return d
}

func (b *Backoff) transient(err error) bool {
	if b.Transient != nil {
		return b.Transient(err)
	}
	return IsTransient(err)
}

// Do runs fn until it succeeds, fails permanently, or runs out of attempts.
func (b *Backoff) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if wait := b.delay(attempt); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !b.transient(err) || attempt == attempts {
			return err
		}
		if b.Logger != nil {
			b.Logger.Warn("transient database failure, retrying",
				"op", op,
				"attempt", attempt,
				"max_attempts", attempts,
				"retry_in", b.delay(attempt+1).String(),
				"error", err,
			)
		}
	}
	return err
}

// Retry is Do for callers that don't hold a configured Backoff.
func Retry(ctx context.Context, b *Backoff, op string, fn func(ctx context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	return b.Do(ctx, op, fn)
}

func RetryValue[T any](ctx context.Context, b *Backoff, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, b, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err is a connectivity failure that happened
// before the statement could have reached the server. Ambiguous failures
// (connection lost mid-write) are not transient: the insert may have committed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection_exception
			return true
		case pgErr.Code == "57P03": // cannot_connect_now
			return true
		case pgErr.Code == "53300": // too_many_connections
			return true
		}
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
