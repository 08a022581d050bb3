package models

import "errors"

// Pipeline error taxonomy. Stage failures wrap one of these sentinels so the
// dispatch loop can classify an error without knowing which client produced it.
var (
	// ErrParse marks a malformed inbound message. The envelope is dropped
	// and the ingestion loop continues.
	ErrParse = errors.New("malformed event payload")

	// ErrDecode marks an image payload that does not decode under its
	// declared format. Non-retriable; the envelope is dropped.
	ErrDecode = errors.New("image decode failed")

	// ErrDetectionUnavailable marks a detection capability fault.
	// Retriable; exhausted retries degrade to a failed detection outcome
	// and the envelope is still forwarded.
	ErrDetectionUnavailable = errors.New("detection capability unavailable")

	// ErrForwardTransient marks a network or 5xx failure delivering to the
	// collector endpoint. Retried with backoff.
	ErrForwardTransient = errors.New("transient forward failure")

	// ErrForwardRejected marks a 4xx response from the collector.
	// Terminal, never retried.
	ErrForwardRejected = errors.New("forward rejected by collector")

	// ErrForwardExhausted marks a forward that failed after all retry
	// attempts. Terminal per-envelope failure.
	ErrForwardExhausted = errors.New("forward retries exhausted")
)
