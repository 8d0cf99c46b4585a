package bank

import (
	"time"

	"github.com/google/uuid"
)

// DefaultReason replaces absent or blank operation reasons. A transaction
// is never persisted with an empty reason.
const DefaultReason = "No reason provided"

// =============================================================================
// TRANSACTION - Append-only signed delta against a tag-set
// =============================================================================

// Transaction is one immutable ledger entry. Once durably flushed it is
// never mutated or deleted; corrections are new transactions with the
// opposite sign.
type Transaction struct {
	ID        uuid.UUID
	Tags      TagSet
	Delta     int64 // never zero
	Reason    string
	Timestamp time.Time
}

// NewTransaction builds a ledger entry with a fresh ID and the current
// time. Zero deltas are rejected upstream (see Service.Add); blank
// reasons fall back to DefaultReason.
func NewTransaction(tags TagSet, delta int64, reason string) Transaction {
	if isBlank(reason) {
		reason = DefaultReason
	}
	return Transaction{
		ID:        uuid.New(),
		Tags:      tags,
		Delta:     delta,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
