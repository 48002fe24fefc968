package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation targets a key or path that no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a singer+song pair or a roster member already exists.
	ErrDuplicate = errors.New("duplicate")
	// ErrStoreUnavailable wraps backend failures on any read or write.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTimeout is returned when a bounded write does not finish in time.
	ErrTimeout = errors.New("timeout")
	// ErrInconsistent marks order/key mismatches. It is healed, not surfaced.
	ErrInconsistent = errors.New("inconsistent")
	// ErrInvalid is returned for records that fail decoding or validation.
	ErrInvalid = errors.New("invalid")
	// ErrSongDisabled is returned when a disabled song is requested.
	ErrSongDisabled = errors.New("song disabled")
	// ErrRateLimited is returned when a client exceeds the request limit.
	ErrRateLimited = errors.New("rate limited")
)

// StoreError wraps a backend failure so callers can match ErrStoreUnavailable
// while keeping the underlying cause.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// TimeoutError converts an expired context into ErrTimeout and leaves other
// errors untouched.
func TimeoutError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// ErrorStatus maps an error to the short status label used in metrics and logs.
func ErrorStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrSongDisabled):
		return "disabled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
