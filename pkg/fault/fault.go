// Package fault defines the error taxonomy shared by the pipeline and its
// provider adapters.
//
// Adapters classify raw errors from their underlying service into one of four
// kinds; the orchestrator never sees raw transport errors. The kinds drive
// uniform recovery behaviour:
//
//   - Transient: network/timeout/5xx from a backend. Retried against a
//     fallback when one is configured, otherwise degraded (empty audio,
//     apology text) while the pipeline stays alive.
//   - InvalidInput: audio too short, empty text, malformed request. Always
//     recovered locally; never surfaced to the user.
//   - Configuration: missing credentials or model paths. Fatal at startup for
//     the affected backend only, which falls back to a no-op implementation.
//   - Cancelled: deliberate barge-in cancellation. Treated as success with no
//     result, never logged as a failure.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for each taxonomy kind. Classified errors wrap one of these,
// so callers test with errors.Is.
var (
	ErrTransient     = errors.New("transient backend error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConfiguration = errors.New("configuration error")
	ErrCancelled     = errors.New("operation cancelled")
)

// Transient wraps err as a transient backend failure attributed to op.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// InvalidInput returns an invalid-input error attributed to op.
func InvalidInput(op string, msg string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrInvalidInput, msg)
}

// Configuration wraps err (which may be nil) as a configuration failure
// attributed to op.
func Configuration(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrConfiguration)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
}

// Cancelled wraps err (which may be nil) as a deliberate cancellation
// attributed to op.
func Cancelled(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrCancelled)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrCancelled, err)
}

// IsTransient reports whether err is a transient backend failure. Context
// deadline expiry counts as transient: a timed-out call is treated identically
// to a recoverable backend failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancelled reports whether err is a deliberate cancellation, either through
// the taxonomy or a cancelled context.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsInvalidInput reports whether err marks input that should be discarded
// locally.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConfiguration reports whether err marks a startup configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Recoverable reports whether the pipeline should absorb err and continue the
// conversation (everything except configuration errors, which are handled at
// startup).
func Recoverable(err error) bool {
	return IsTransient(err) || IsInvalidInput(err) || IsCancelled(err)
}
