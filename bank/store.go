/*
store.go - Persistence contract for the ledger and its materialized view

PURPOSE:
  Defines the interface between the ledger core and the backing store.
  The core needs exactly five capabilities: readiness probing, idempotent
  provisioning (index + continuous aggregation), bulk append, and point
  balance lookup by tag-set. Nothing here ties the core to a specific
  product.

APPEND-ONLY CONTRACT:
  AppendBatch is the ONLY write. No Update, no Delete. The same batch may
  be resubmitted after a partial failure: appends are keyed by transaction
  ID and duplicates must be idempotent no-ops, so re-flushing a batch that
  already landed cannot double-count in the aggregate.

STALENESS CONTRACT:
  LookupBalance reads the materialized view, never the raw ledger. The
  view lags the ledger by a bounded sync delay; callers tolerate reading a
  balance that does not yet reflect a very recent write.

IMPLEMENTATIONS:
  - store/elastic:     Elasticsearch indices + continuous pivot transform
  - store/sqlite:      Embedded store with a periodic materializer
  - bank/store/memory: In-memory, manual refresh, for tests

SEE ALSO:
  - buffer.go:  Batches writes into AppendBatch calls
  - service.go: Reads through the cache into LookupBalance
*/
package bank

import "context"

// Backend is the minimal store contract the ledger core depends on.
type Backend interface {
	// Provision idempotently creates the transaction log and the
	// continuous balance aggregation, and ensures the aggregation is
	// running. Safe to call multiple times; tolerates "already exists"
	// and "already started".
	Provision(ctx context.Context) error

	// Ready reports whether the store can serve requests. The subsystem
	// refuses to start when this returns false.
	Ready(ctx context.Context) bool

	// AppendBatch durably appends a batch of transactions. Duplicate
	// transaction IDs are idempotent no-ops.
	AppendBatch(ctx context.Context, batch []Transaction) error

	// LookupBalance returns the materialized balance for the tag-set.
	// A tag-set with no matching row has balance 0, not an error.
	LookupBalance(ctx context.Context, tags TagSet) (int64, error)

	// Close releases the store's resources.
	Close() error
}
