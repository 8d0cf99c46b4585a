/*
Package sqlite provides an embedded SQLite-backed Backend implementation.

PURPOSE:
  The single-process equivalent of the Elasticsearch backend. The ledger
  is an append-only transactions table; the materialized view is an
  accounts table refreshed by a periodic GROUP BY materializer - the
  embedded stand-in for a server-side continuous aggregation.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE ever touches the transactions table
  - INSERT OR IGNORE keyed by transaction ID makes batch resubmission
    after a lost acknowledgment an idempotent no-op

STALENESS:
  LookupBalance reads only the accounts table. Fresh appends are invisible
  until the next materializer pass, preserving the same eventual
  consistency contract the transform gives the Elasticsearch backend.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

SEE ALSO:
  - bank/store.go:  The contract this satisfies
  - store/elastic:  The server-backed equivalent
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/tagledger/bank"
)

// Store implements bank.Backend on an embedded SQLite database.
type Store struct {
	db        *sql.DB
	frequency time.Duration

	ticker    *time.Ticker
	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New opens (or creates) the database and migrates the schema. Use
// ":memory:" for an in-memory database. frequency controls how often the
// materializer folds new ledger entries into the accounts table; a
// non-positive value defaults to 2s.
func New(dbPath string, frequency time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if frequency <= 0 {
		frequency = 2 * time.Second
	}
	s := &Store{
		db:        db,
		frequency: frequency,
		stop:      make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_fingerprint
		ON transactions(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at);

	-- Materialized balances (refreshed by the materializer, never
	-- written by the request path)
	CREATE TABLE IF NOT EXISTS accounts (
		fingerprint TEXT PRIMARY KEY,
		tags_json TEXT NOT NULL,
		balance INTEGER NOT NULL,
		refreshed_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ready reports whether the database answers a ping.
func (s *Store) Ready(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Provision runs an initial materialization and starts the periodic
// materializer. Idempotent: calling it again is a no-op.
func (s *Store) Provision(ctx context.Context) error {
	if err := s.Materialize(ctx); err != nil {
		return fmt.Errorf("%w: %v", bank.ErrAggregationUnavailable, err)
	}
	s.startOnce.Do(func() {
		s.ticker = time.NewTicker(s.frequency)
		s.wg.Add(1)
		go s.run()
		log.Printf("[Storage] Materializer started with frequency: %v", s.frequency)
	})
	return nil
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			if err := s.Materialize(context.Background()); err != nil {
				log.Printf("[Storage] Materialize failed: %v", err)
			}
		case <-s.stop:
			return
		}
	}
}

// AppendBatch appends the batch in one database transaction. Duplicate
// IDs are ignored, so resubmitted batches cannot double-count.
func (s *Store) AppendBatch(ctx context.Context, batch []bank.Transaction) error {
	if len(batch) == 0 {
		return nil
	}
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (id, fingerprint, tags_json, delta, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tx := range batch {
		tagsJSON, err := json.Marshal(tx.Tags.Raw())
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			tx.ID.String(),
			tx.Tags.Fingerprint(),
			string(tagsJSON),
			tx.Delta,
			tx.Reason,
			tx.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to append transaction %s: %w", tx.ID, err)
		}
	}
	return dbTx.Commit()
}

// Materialize recomputes per-tag-set balances from the ledger. Exposed
// so tests and shutdown can step the view forward deterministically.
func (s *Store) Materialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (fingerprint, tags_json, balance, refreshed_at)
		SELECT fingerprint, MAX(tags_json), SUM(delta), ?
		FROM transactions
		GROUP BY fingerprint
		ON CONFLICT(fingerprint) DO UPDATE SET
			balance = excluded.balance,
			refreshed_at = excluded.refreshed_at`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to materialize balances: %w", err)
	}
	return nil
}

// LookupBalance reads the materialized balance. No row means balance 0.
func (s *Store) LookupBalance(ctx context.Context, tags bank.TagSet) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE fingerprint = ?`,
		tags.Fingerprint(),
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up balance: %w", err)
	}
	return balance, nil
}

// Close stops the materializer and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
			close(s.stop)
			s.wg.Wait()
		}
	})
	return s.db.Close()
}
