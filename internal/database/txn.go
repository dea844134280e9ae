package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 5 * time.Millisecond

	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

var (
	// ErrWriteConflict marks an optimistic-concurrency abort: a compare-and-swap matched no row,
	// or the store rejected the commit because a concurrent transaction won.
	ErrWriteConflict = errors.New("database: write conflict")
	// ErrRetriesExhausted is returned once every attempt of a transaction hit a write conflict.
	ErrRetriesExhausted = errors.New("database: transaction retries exhausted")
)

// RetryPolicy bounds how often RunInTransaction re-executes a conflicting transaction body.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// DefaultRetryPolicy returns the policy used when callers do not configure one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, Backoff: defaultBackoff}
}

// RunInTransaction executes body inside a transaction and re-runs it from scratch on write
// conflicts. body must derive every value it writes from reads made through tx during the
// same attempt; nothing computed in a rolled back attempt may leak into the next one.
func RunInTransaction(ctx context.Context, db *gorm.DB, policy RetryPolicy, body func(tx *gorm.DB) error) (int, error) {
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := db.WithContext(ctx).Transaction(body)
		if err == nil {
			return attempt, nil
		}
		if !IsWriteConflict(err) {
			return attempt, err
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		if waitErr := sleepContext(ctx, policy.Backoff*time.Duration(attempt)); waitErr != nil {
			return attempt, waitErr
		}
	}
	return policy.MaxAttempts, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}

// IsWriteConflict reports whether err is a transient concurrency failure worth retrying.
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWriteConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "sqlite_busy") ||
		strings.Contains(message, "unique constraint failed")
}

// IsDuplicateKey reports whether err is a primary key or unique index violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
