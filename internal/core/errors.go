package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExhausted signals the provider's quota is spent. It is never
	// retried; the current batch degrades to "no result".
	ErrQuotaExhausted = errors.New("provider quota exhausted")

	// ErrPromptTooLarge signals the provider rejected or truncated the
	// prompt. The synthesizer retries once with a more compact prompt.
	ErrPromptTooLarge = errors.New("prompt too large for provider")
)

// TransientError wraps a retryable provider failure such as a rate limit.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried under backoff policy.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// MalformedResponseError is returned when a generative response carries no
// parseable JSON. It is treated as an extraction failure, never retried.
type MalformedResponseError struct {
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed provider response: %s", e.Reason)
}

// InvalidRegexError is returned when a synthesized regex fails to compile or
// misses the validation ratio. It never surfaces outward; callers downgrade
// to a fallback regex or per-message extraction.
type InvalidRegexError struct {
	Pattern string
	Reason  string
}

func (e *InvalidRegexError) Error() string {
	return fmt.Sprintf("invalid synthesized regex %q: %s", e.Pattern, e.Reason)
}
