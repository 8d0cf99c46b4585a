// Package store provides Backend implementations.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/tagledger/bank"
)

// =============================================================================
// MEMORY BACKEND - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements bank.Backend with an in-process ledger and a
// materialized balance map. Like the real backends, LookupBalance reads
// only the materialized view: appended transactions are invisible until
// Refresh folds them in, which mirrors the aggregation delay.
type Memory struct {
	mu       sync.Mutex
	appended map[uuid.UUID]bank.Transaction
	balances map[string]int64 // fingerprint -> materialized balance

	provisioned bool

	// AppendErr, when set, makes AppendBatch fail. Used to exercise the
	// flusher's retry path.
	AppendErr error
}

func NewMemory() *Memory {
	return &Memory{
		appended: make(map[uuid.UUID]bank.Transaction),
		balances: make(map[string]int64),
	}
}

func (m *Memory) Provision(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisioned = true
	return nil
}

func (m *Memory) Ready(_ context.Context) bool {
	return true
}

// AppendBatch appends transactions, deduplicated by ID: resubmitting a
// batch that already landed is a no-op, as the Backend contract requires.
func (m *Memory) AppendBatch(_ context.Context, batch []bank.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	for _, tx := range batch {
		if _, exists := m.appended[tx.ID]; !exists {
			m.appended[tx.ID] = tx
		}
	}
	return nil
}

func (m *Memory) LookupBalance(_ context.Context, tags bank.TagSet) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[tags.Fingerprint()], nil
}

func (m *Memory) Close() error {
	return nil
}

// Refresh recomputes the materialized balances from the appended
// transactions, the in-memory stand-in for the store-side aggregation
// job. Tests call it explicitly to step past the staleness window.
func (m *Memory) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	balances := make(map[string]int64, len(m.balances))
	for _, tx := range m.appended {
		balances[tx.Tags.Fingerprint()] += tx.Delta
	}
	m.balances = balances
}

// Appended returns the number of durably appended transactions.
func (m *Memory) Appended() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appended)
}
