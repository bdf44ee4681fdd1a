package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/tutormatch/internal/apperr"
)

// ErrVersionMismatch is returned by a conditional write whose expected version
// no longer matches the stored document.
var ErrVersionMismatch = errors.New("version mismatch")

// ErrDuplicateID is returned by an insert whose generated id is already taken.
var ErrDuplicateID = errors.New("document id already exists")

// Operation is one attempt of a retryable action.
type Operation func(ctx context.Context) error

// IsRetryable decides whether a failed attempt should be retried.
type IsRetryable func(err error) bool

const (
	DefaultMaxRetries = 3
	mongoDuplicateKey = 11000
)

// RetryBackoff is the base delay between attempts; attempt n waits n*RetryBackoff.
var RetryBackoff = 20 * time.Millisecond

// Try executes an operation with default retry settings for duplicate key errors.
func Try(ctx context.Context, op Operation) error {
	return WithRetries(ctx, op, DefaultMaxRetries, IsDuplicateKey)
}

// IsDuplicateKey reports an id collision, raw from MongoDB or already translated.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateID) || IsMongoDuplicateKeyError(err)
}

// WithRetries runs op once plus up to maxRetries more times while isRetryable
// accepts the error. The last error is returned when attempts run out.
func WithRetries(ctx context.Context, op Operation, maxRetries int, isRetryable IsRetryable) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !isRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * RetryBackoff):
		}
	}
	return err
}

// Resolve runs a read-guard-write closure, re-running it from the read whenever
// the write loses a version race. Exhausted retries surface as a Conflict; any
// other error is returned unchanged on first sight.
func Resolve(ctx context.Context, maxRetries int, op Operation) error {
	err := WithRetries(ctx, op, maxRetries, IsVersionMismatch)
	if IsVersionMismatch(err) {
		return apperr.Wrap(apperr.KindConflict, err, "%s", apperr.ErrRetriesExhausted.Message)
	}
	return err
}

// IsVersionMismatch reports whether err is a lost compare-and-swap.
func IsVersionMismatch(err error) bool {
	return errors.Is(err, ErrVersionMismatch)
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	return DuplicateKeyIndex(err) != "" || hasDuplicateKeyCode(err)
}

// DuplicateKeyIndex returns the name of the index a duplicate key error was raised on,
// or "" if err is not a duplicate key error or the server did not report the index.
func DuplicateKeyIndex(err error) string {
	for _, we := range writeErrors(err) {
		if we.Code != mongoDuplicateKey {
			continue
		}
		const marker = "index: "
		msg := we.Message
		i := strings.Index(msg, marker)
		if i < 0 {
			return ""
		}
		rest := msg[i+len(marker):]
		if j := strings.IndexByte(rest, ' '); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return ""
}

func hasDuplicateKeyCode(err error) bool {
	for _, we := range writeErrors(err) {
		if we.Code == mongoDuplicateKey {
			return true
		}
	}
	return false
}

func writeErrors(err error) []mongo.WriteError {
	var out []mongo.WriteError
	var e mongo.WriteException
	if errors.As(err, &e) {
		out = append(out, e.WriteErrors...)
	}
	// BulkWriteException can also carry duplicate key errors
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, writeError := range bwe.WriteErrors {
			out = append(out, writeError.WriteError)
		}
	}
	return out
}
