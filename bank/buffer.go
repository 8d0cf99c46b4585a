/*
buffer.go - Write buffer and batched flusher

PURPOSE:
  Decouples the synchronous operation path from ledger durability latency.
  Enqueue inserts into an in-memory pending set and returns immediately;
  a background ticker periodically swaps the whole set out and bulk-writes
  it to the store.

DESIGN:
  - Swap-and-clear: the flush tick atomically takes the entire pending
    map and replaces it with a fresh one, so enqueues racing with a flush
    land in the new map and are never interleaved with the batch in
    flight.
  - Merge on failure: a failed batch is merged back UNDER the current
    pending map (entries enqueued during the attempt survive) and retried
    on the next tick. No backoff, no retry cap; failures are logged.
  - Fire-and-forget: the caller already received a transaction ID when it
    enqueued. A crash between enqueue and flush loses the pending batch.
    This is the accepted trade-off: low-latency acknowledgment over
    observable durability.

SEE ALSO:
  - service.go: The only producer
  - store.go:   AppendBatch contract (idempotent by transaction ID)
*/
package bank

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFlushInterval matches the aggregation sync delay's order of
// magnitude: batches land well within the staleness window.
const DefaultFlushInterval = 1 * time.Second

// =============================================================================
// BUFFER - Pending transaction set + periodic flusher
// =============================================================================

// Buffer accumulates transactions and flushes them to the Backend on a
// fixed interval. Safe for concurrent Enqueue from many goroutines; the
// flush tick is the only consumer.
type Buffer struct {
	backend  Backend
	interval time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]Transaction

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewBuffer creates a buffer flushing to backend every interval.
// A non-positive interval falls back to DefaultFlushInterval.
func NewBuffer(backend Backend, interval time.Duration) *Buffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Buffer{
		backend:  backend,
		interval: interval,
		pending:  make(map[uuid.UUID]Transaction),
		stop:     make(chan struct{}),
	}
}

// Enqueue adds a transaction to the pending set. O(1), never blocks on
// persistence. Durability is a promise kept by the next flush tick, not a
// guarantee observable in this call.
func (b *Buffer) Enqueue(tx Transaction) {
	b.mu.Lock()
	b.pending[tx.ID] = tx
	b.mu.Unlock()
}

// Pending returns the number of transactions awaiting flush.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start begins the background flush loop.
func (b *Buffer) Start() {
	b.ticker = time.NewTicker(b.interval)
	b.wg.Add(1)
	go b.run()
	log.Printf("[Flusher] Started with flush interval: %v", b.interval)
}

// Stop halts the flush loop and drains the remaining pending set so a
// clean shutdown does not drop the tail. Safe to call once.
func (b *Buffer) Stop() {
	b.once.Do(func() {
		if b.ticker != nil {
			b.ticker.Stop()
		}
		close(b.stop)
		b.wg.Wait()
		if err := b.Flush(context.Background()); err != nil {
			log.Printf("[Flusher] Final drain failed: %v", err)
		}
		log.Println("[Flusher] Stopped")
	})
}

func (b *Buffer) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				log.Printf("[Flusher] %v (will retry on next tick)", err)
			}
		case <-b.stop:
			return
		}
	}
}

// Flush swaps out the current pending set and appends it to the store.
// On failure the batch is merged back under the current pending set and
// a PersistError is returned. Exposed for shutdown and tests; callers of
// Enqueue never see these errors.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	processing := b.pending
	b.pending = make(map[uuid.UUID]Transaction)
	b.mu.Unlock()

	batch := make([]Transaction, 0, len(processing))
	for _, tx := range processing {
		batch = append(batch, tx)
	}

	if err := b.backend.AppendBatch(ctx, batch); err != nil {
		// Merge back without clobbering entries enqueued mid-flush.
		// Transaction IDs are unique so collisions cannot happen, but the
		// current map wins if one ever did.
		b.mu.Lock()
		for id, tx := range processing {
			if _, exists := b.pending[id]; !exists {
				b.pending[id] = tx
			}
		}
		b.mu.Unlock()
		return &PersistError{Batch: len(batch), Err: err}
	}

	log.Printf("[Flusher] %d transaction(s) saved", len(batch))
	return nil
}
