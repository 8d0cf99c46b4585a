/*
service.go - Account operation façade

PURPOSE:
  Exposes get / add / remove / set over tag-sets, composing the cache,
  the write buffer and the backing store, and enforcing the shared
  invariants: non-zero amounts, schema-conformant tags, the empty-tag-set
  gate, and the pre/post commit hooks.

WRITE PATH:
  validate -> build transaction -> pre-commit hook (veto point) ->
  enqueue -> post-commit hook -> return transaction ID.
  The ID is returned before the transaction is durable; durability is the
  flusher's promise (see buffer.go).

READ PATH:
  cache hit inside TTL -> return. Otherwise look up the materialized
  balance, repopulate the cache, return. The cache is not populated when
  the lookup fails.

SET IS NOT ATOMIC:
  Set reads the current balance, computes target - current, and appends
  that delta. Concurrent writers to the same tag-set can race and land on
  a final balance equal to neither target. This is the documented
  contract, not a bug; no lock spans the read and the append.

SEE ALSO:
  - cache.go, buffer.go, store.go
  - registry.go: Per-principal tag registry built on this façade
*/
package bank

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// HOOKS - Injected external collaborator callbacks
// =============================================================================

// PreCommitFunc is called synchronously before a transaction is enqueued.
// Returning true vetoes the operation: nothing is enqueued and the caller
// receives ErrOperationCancelled.
type PreCommitFunc func(id uuid.UUID, tags TagSet, amount int64, reason string) (cancel bool)

// PostCommitFunc is notified synchronously after a transaction is
// enqueued. Fire-and-forget: its behavior cannot affect the operation.
type PostCommitFunc func(id uuid.UUID, tags TagSet, amount int64, reason string)

// =============================================================================
// SERVICE - get / add / remove / set over tag-sets
// =============================================================================

// Service composes the backend, buffer and cache into the account
// operation façade.
type Service struct {
	backend Backend
	buffer  *Buffer
	cache   *Cache
	schema  Schema

	// AllowEmptyTags permits operations on the empty tag-set (a single
	// global account). Off by default.
	AllowEmptyTags bool

	// PreCommit / PostCommit are the external collaborator's hooks.
	// Either may be nil.
	PreCommit  PreCommitFunc
	PostCommit PostCommitFunc
}

func NewService(backend Backend, buffer *Buffer, cache *Cache, schema Schema) *Service {
	return &Service{
		backend: backend,
		buffer:  buffer,
		cache:   cache,
		schema:  schema,
	}
}

// Get returns the balance for the tag-set: cache first, then the
// materialized view. The cache is repopulated on a successful lookup.
func (s *Service) Get(ctx context.Context, tags TagSet) (int64, error) {
	if err := s.checkTags(tags); err != nil {
		return 0, err
	}
	if balance, ok := s.cache.Get(tags); ok {
		return balance, nil
	}
	balance, err := s.backend.LookupBalance(ctx, tags)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAggregationUnavailable, err)
	}
	s.cache.Put(tags, balance)
	return balance, nil
}

// GetByTag is the single-tag special case of Get.
func (s *Service) GetByTag(ctx context.Context, name string, value TagValue) (int64, error) {
	return s.Get(ctx, TagSet{name: value})
}

// Add appends a signed delta to the tag-set's ledger and returns the
// transaction ID. The ID is returned as soon as the transaction is
// buffered; durability follows on the next flush tick.
func (s *Service) Add(ctx context.Context, tags TagSet, amount int64, reason string) (uuid.UUID, error) {
	if amount == 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	if err := s.checkTags(tags); err != nil {
		return uuid.Nil, err
	}

	tx := NewTransaction(tags, amount, reason)
	if s.PreCommit != nil && s.PreCommit(tx.ID, tx.Tags, tx.Delta, tx.Reason) {
		return uuid.Nil, ErrOperationCancelled
	}
	s.buffer.Enqueue(tx)
	if s.PostCommit != nil {
		s.PostCommit(tx.ID, tx.Tags, tx.Delta, tx.Reason)
	}
	return tx.ID, nil
}

// Remove is Add with the sign flipped: the stored delta is always
// negative regardless of the sign the caller passed.
func (s *Service) Remove(ctx context.Context, tags TagSet, amount int64, reason string) (uuid.UUID, error) {
	if amount < 0 {
		amount = -amount
	}
	return s.Add(ctx, tags, -amount, reason)
}

// Set reads the current balance and appends target - current. Not
// atomic: a concurrent writer between the read and the append shifts the
// final balance away from target (see the package notes).
func (s *Service) Set(ctx context.Context, tags TagSet, target int64, reason string) (uuid.UUID, error) {
	current, err := s.Get(ctx, tags)
	if err != nil {
		return uuid.Nil, err
	}
	return s.Add(ctx, tags, target-current, reason)
}

func (s *Service) checkTags(tags TagSet) error {
	if len(tags) == 0 && !s.AllowEmptyTags {
		return ErrEmptyTags
	}
	return s.schema.Validate(tags)
}
