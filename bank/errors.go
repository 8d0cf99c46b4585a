/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the API layer maps these to
  HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors  - Rejected before any side effect (InvalidAmount,
     EmptyTags, schema violations, hook veto)
  2. Durability errors  - Flush failures; logged and retried, never
     surfaced to the caller that enqueued the transaction
  3. Read-path errors   - Aggregation/materialized-view failures;
     surfaced synchronously to the reader

SEE ALSO:
  - service.go: Returns the validation errors
  - buffer.go:  Logs PersistError and retries
*/
package bank

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a zero-amount operation is
	// requested. Zero deltas are never recorded.
	ErrInvalidAmount = errors.New("amount can't be 0")

	// ErrEmptyTags is returned for an empty tag-set when the configuration
	// does not allow empty tag-sets.
	ErrEmptyTags = errors.New("empty tag-set not allowed")

	// ErrOperationCancelled is returned when the pre-commit hook vetoed
	// the operation. Nothing was enqueued.
	ErrOperationCancelled = errors.New("operation cancelled by pre-commit hook")

	// ErrAggregationUnavailable is returned when the materialized balance
	// view cannot be provisioned or queried.
	ErrAggregationUnavailable = errors.New("aggregation unavailable")

	// ErrNotReady is returned at startup when the backing store fails its
	// readiness probe. The subsystem must refuse to start.
	ErrNotReady = errors.New("storage not ready")

	// ErrPrincipalExists is returned when registering tags for a principal
	// that already has tags registered.
	ErrPrincipalExists = errors.New("principal already has tags registered")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SchemaError reports invalid naming or typing in configuration or in a
// tag-set. At store initialization it is fatal.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on %q: %s", e.Field, e.Reason)
}

// PersistError reports a failed ledger flush. It is logged by the flusher
// and retried on the next tick; the original caller never sees it.
type PersistError struct {
	Batch int // number of transactions in the failed batch
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist batch of %d transaction(s): %v", e.Batch, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
