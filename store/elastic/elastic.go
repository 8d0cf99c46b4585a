/*
Package elastic provides the Elasticsearch-backed Backend implementation.

PURPOSE:
  Implements bank.Backend over two indices and a continuous transform:

  <prefix>transactions  Append-only transaction log. Bulk "create" ops
                        keyed by transaction ID, so re-flushing a batch
                        whose acknowledgment was lost is an idempotent
                        no-op (duplicates come back as 409 and are
                        ignored).
  <prefix>accounts      Materialized balances, written by the transform.
  <prefix>accounts      (transform) Server-side continuous pivot: group
                        by the declared tag fields, sum over delta, synced
                        on @timestamp with a configured delay and
                        re-checked at a configured frequency.

  The core never computes the aggregation itself; it provisions the
  transform once (idempotently) and queries the destination index.

INDEX NAMING:
  The prefix must match ^[a-z0-9][a-z0-9-]{0,19}$ - lower case letters,
  digits and dashes, not starting with a dash. Anything else fails New
  with a SchemaError before any connection is attempted.

SEE ALSO:
  - provision.go:    Index and transform creation
  - bank/store.go:   The contract this satisfies
  - store/sqlite:    The embedded equivalent
*/
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/shopspring/decimal"

	"github.com/warp/tagledger/bank"
)

var prefixPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,19}$`)

// tagFieldPath is the document path of a declared tag. The transform's
// group_by keys, the index mappings and the lookup term queries must all
// use this same path or balance reads silently miss.
func tagFieldPath(name string) string {
	return "tags." + name
}

// Config carries the connection and provisioning parameters.
type Config struct {
	Addresses []string
	Username  string
	Password  string

	// Prefix names the indices and the transform: <prefix>transactions,
	// <prefix>accounts.
	Prefix   string
	Replicas int

	// SyncDelay is the transform's tolerance for late-arriving ledger
	// entries; Frequency is how often it re-checks the source.
	SyncDelay time.Duration
	Frequency time.Duration
}

// Store implements bank.Backend on an Elasticsearch cluster.
type Store struct {
	client *elasticsearch.Client
	schema bank.Schema

	transactionsIndex string
	accountsIndex     string
	replicas          int
	syncDelay         time.Duration
	frequency         time.Duration
}

// New validates the configuration and builds the client. No cluster
// round-trip happens here; Ready and Provision do that.
func New(cfg Config, schema bank.Schema) (*Store, error) {
	if !prefixPattern.MatchString(cfg.Prefix) {
		return nil, &bank.SchemaError{
			Field: "storage.elasticsearch.prefix",
			Reason: "only lower case letters (a-z), digits (0-9) and dashes '-' are allowed, " +
				"and it can't start with a '-'",
		}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build elasticsearch client: %w", err)
	}
	syncDelay := cfg.SyncDelay
	if syncDelay <= 0 {
		syncDelay = 3 * time.Second
	}
	frequency := cfg.Frequency
	if frequency <= 0 {
		frequency = 2 * time.Second
	}
	return &Store{
		client:            client,
		schema:            schema,
		transactionsIndex: cfg.Prefix + "transactions",
		accountsIndex:     cfg.Prefix + "accounts",
		replicas:          cfg.Replicas,
		syncDelay:         syncDelay,
		frequency:         frequency,
	}, nil
}

// Ready reports whether the cluster answers a ping.
func (s *Store) Ready(ctx context.Context) bool {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		log.Printf("[Storage] Elasticsearch ping failed: %v", err)
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// AppendBatch bulk-creates the batch. Per-item 409s (a transaction ID
// that already exists) are ignored: the log is append-only and IDs are
// unique, so a duplicate create is a successful no-op.
func (s *Store) AppendBatch(ctx context.Context, batch []bank.Transaction) error {
	if len(batch) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, tx := range batch {
		action := map[string]any{
			"create": map[string]any{
				"_index": s.transactionsIndex,
				"_id":    tx.ID.String(),
			},
		}
		doc := map[string]any{
			"transactionId": tx.ID.String(),
			"delta":         tx.Delta,
			"reason":        tx.Reason,
			"@timestamp":    tx.Timestamp.Format(time.RFC3339Nano),
			"tags":          tx.Tags.Raw(),
		}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := s.client.Bulk(bytes.NewReader(body.Bytes()), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk request failed: %s", res.String())
	}
	return checkBulkItems(res.Body)
}

// checkBulkItems scans the per-item results. 200/201 is created, 409 is
// an already-appended duplicate; anything else fails the batch so the
// flusher retries it.
func checkBulkItems(body io.Reader) error {
	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !result.Errors {
		return nil
	}
	for _, item := range result.Items {
		for _, op := range item {
			switch op.Status {
			case 200, 201, 409:
			default:
				return fmt.Errorf("bulk item failed with status %d: %s", op.Status, op.Error)
			}
		}
	}
	return nil
}

// LookupBalance queries the accounts index with one term filter per tag.
// No matching document means balance 0.
//
// An empty tag-set yields a filterless bool query, which matches an
// arbitrary account rather than a dedicated empty-tag account. The
// embedded backends key that account by the empty fingerprint; this
// backend has no equivalent destination row to query. Deployments that
// enable allow_empty_tags should use the sqlite backend.
func (s *Store) LookupBalance(ctx context.Context, tags bank.TagSet) (int64, error) {
	filters := make([]map[string]any, 0, len(tags))
	for name, value := range tags {
		filters = append(filters, map[string]any{
			"term": map[string]any{tagFieldPath(name): value.Raw()},
		})
	}
	query := map[string]any{
		"size":  1,
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.accountsIndex),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return 0, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("search request failed: %s", res.String())
	}
	return decodeBalance(res.Body)
}

// decodeBalance extracts the summed balance from the first hit. The
// transform stores the sum as a double; going through decimal keeps
// large int64 balances exact instead of trusting float64 round-trips.
func decodeBalance(body io.Reader) (int64, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]json.Number `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(result.Hits.Hits) == 0 {
		return 0, nil
	}
	raw, ok := result.Hits.Hits[0].Source["balance"]
	if !ok {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw.String())
	if err != nil {
		return 0, fmt.Errorf("malformed balance %q: %w", raw.String(), err)
	}
	return d.IntPart(), nil
}

// Close is a no-op: the underlying HTTP transport needs no teardown.
func (s *Store) Close() error {
	return nil
}
