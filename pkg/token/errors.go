package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed external input. Absorbed at the ingress
	// boundary; webhooks still answer 200.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIgnoredToken marks identifiers that never create tracking state.
	ErrIgnoredToken = errors.New("ignored token")

	// ErrStaleSnapshot means no provider produced usable data; the scorer
	// holds instead of acting on it.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrScoringPrecondition marks a phase whose inputs are missing; the
	// phase is skipped and the breakdown annotated.
	ErrScoringPrecondition = errors.New("scoring precondition not met")
)

// TransientFetchError wraps a retriable provider failure. The fetcher retries
// once, then degrades the snapshot instead of surfacing this.
type TransientFetchError struct {
	Provider string
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch from %s: %v", e.Provider, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PublishFailure reports a signal that exhausted its delivery retries. The
// signal record is marked emit_failed; state stays EMITTED.
type PublishFailure struct {
	Attempts int
	Err      error
}

func (e *PublishFailure) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PublishFailure) Unwrap() error { return e.Err }
