// Package docmodel implements the reconciliation engine's document tree:
// canonical serialization, source-hashing, and the annotated/classified
// node shapes every other engine package builds on.
package docmodel

import "errors"

// Permanent failures. A message that fails with one of these is routed to
// the dead-letter sink; it will never succeed on retry.
var (
	ErrMalformedJSON          = errors.New("docmodel: malformed json")
	ErrMissingSource          = errors.New("docmodel: source field missing")
	ErrMissingSchema          = errors.New("docmodel: $schema field missing")
	ErrMissingClassification  = errors.New("docmodel: classification field missing or empty")
	ErrMissingSourceFields    = errors.New("docmodel: required source field missing")
	ErrBadClassification      = errors.New("docmodel: classified array element missing classification")
	ErrIncoherentMerge        = errors.New("docmodel: merge across mismatched schema or classification")
	ErrEmptyMerge             = errors.New("docmodel: merge over empty document set")
	ErrEmptyHistory           = errors.New("docmodel: history fetch-by-entity returned no documents immediately after store")
)

// Temporary failures. Classified separately so bus consumers know to retry
// with backoff instead of dead-lettering.
var (
	ErrStoreTimeout      = errors.New("docmodel: store operation timed out")
	ErrStoreConnection   = errors.New("docmodel: store connection failure")
	ErrStoreConflict     = errors.New("docmodel: optimistic version conflict")
	ErrIndexFailure      = errors.New("docmodel: index operation failed")
)

// IsPermanent reports whether err is a permanent-failure sentinel per
// spec §7 — the message should go to the dead-letter sink, not be retried.
func IsPermanent(err error) bool {
	switch {
	case errors.Is(err, ErrMalformedJSON),
		errors.Is(err, ErrMissingSource),
		errors.Is(err, ErrMissingSchema),
		errors.Is(err, ErrMissingClassification),
		errors.Is(err, ErrMissingSourceFields),
		errors.Is(err, ErrBadClassification),
		errors.Is(err, ErrIncoherentMerge),
		errors.Is(err, ErrEmptyMerge),
		errors.Is(err, ErrEmptyHistory):
		return true
	default:
		return false
	}
}

// IsTemporary reports whether err is a transient I/O failure that should be
// retried with backoff rather than dead-lettered.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, ErrStoreTimeout),
		errors.Is(err, ErrStoreConnection),
		errors.Is(err, ErrStoreConflict),
		errors.Is(err, ErrIndexFailure):
		return true
	default:
		return false
	}
}
