package core

import "errors"

// Failure taxonomy shared by every component. Components wrap these with
// fmt.Errorf("...: %w") so callers can branch with errors.Is.
var (
	// ErrEncodingUnavailable means the embedding source is down. Retryable.
	ErrEncodingUnavailable = errors.New("encoding unavailable")
	// ErrCascadeTimeout means a cascade stage ran past its budget and returned a partial set.
	ErrCascadeTimeout = errors.New("cascade stage timeout")
	// ErrAggregationUnavailable means the evaluator or aggregator is down. Retryable; offers are preserved.
	ErrAggregationUnavailable = errors.New("aggregation unavailable")
	// ErrInsufficientResponders is surfaced to callers as a NeedMoreInfo result.
	ErrInsufficientResponders = errors.New("insufficient responders")
	// ErrConsensusFailure marks a failure outcome that lacks multi-party confirmation.
	ErrConsensusFailure = errors.New("failure lacks consensus")
	// ErrInvalidInput means the text carries nothing to encode. Not retryable.
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidAgent = errors.New("invalid agent")
	ErrNotFound     = errors.New("not found")
	ErrPending      = errors.New("result pending")
	ErrCancelled    = errors.New("negotiation cancelled")
)

// IsRetryable reports whether err is a transient infrastructure failure that
// the caller should retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEncodingUnavailable) || errors.Is(err, ErrAggregationUnavailable)
}
