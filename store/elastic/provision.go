/*
provision.go - Idempotent index and transform provisioning

Check-then-act throughout: every step tolerates "already exists" and
"already started", so Provision is safe to run on every startup.
*/
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/warp/tagledger/bank"
)

// Provision ensures both indices exist with the declared mappings and
// that the balance transform exists and is running.
func (s *Store) Provision(ctx context.Context) error {
	if err := s.ensureIndex(ctx, s.transactionsIndex, s.transactionsMapping()); err != nil {
		return err
	}
	if err := s.ensureIndex(ctx, s.accountsIndex, s.accountsMapping()); err != nil {
		return err
	}
	if err := s.ensureTransform(ctx); err != nil {
		return fmt.Errorf("%w: %v", bank.ErrAggregationUnavailable, err)
	}
	return nil
}

// =============================================================================
// INDICES
// =============================================================================

func (s *Store) ensureIndex(ctx context.Context, name string, mapping map[string]any) error {
	res, err := s.client.Indices.Exists([]string{name}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index %q check failed: %w", name, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		log.Printf("[Storage] Index %q loaded", name)
		return nil
	}

	body := map[string]any{
		"mappings": mapping,
		"settings": map[string]any{"number_of_replicas": s.replicas},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	createRes, err := s.client.Indices.Create(
		name,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("index %q create failed: %w", name, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("index %q create failed: %s", name, createRes.String())
	}
	log.Printf("[Storage] Index %q created", name)
	return nil
}

// transactionsMapping types the ledger document: the fixed fields plus a
// tags object with one property per declared tag.
func (s *Store) transactionsMapping() map[string]any {
	properties := map[string]any{
		"@timestamp":    map[string]any{"type": "date"},
		"delta":         map[string]any{"type": "long"},
		"reason":        map[string]any{"type": "text"},
		"transactionId": map[string]any{"type": "keyword", "ignore_above": 36},
	}
	if tags := s.tagProperties(); len(tags) > 0 {
		properties["tags"] = map[string]any{"properties": tags}
	}
	return map[string]any{"properties": properties}
}

// accountsMapping types the materialized balance rows written by the
// transform: the summed balance plus the flattened tag fields.
func (s *Store) accountsMapping() map[string]any {
	properties := map[string]any{
		"balance": map[string]any{"type": "long"},
	}
	if tags := s.tagProperties(); len(tags) > 0 {
		properties["tags"] = map[string]any{"properties": tags}
	}
	return map[string]any{"properties": properties}
}

func (s *Store) tagProperties() map[string]any {
	properties := make(map[string]any, len(s.schema))
	for name, kind := range s.schema {
		switch kind {
		case bank.KindString:
			properties[name] = map[string]any{"type": "keyword", "ignore_above": 256}
		case bank.KindInt:
			properties[name] = map[string]any{"type": "long"}
		case bank.KindFloat:
			properties[name] = map[string]any{"type": "double"}
		case bank.KindBool:
			properties[name] = map[string]any{"type": "boolean"}
		}
	}
	return properties
}

// =============================================================================
// TRANSFORM - Continuous balance aggregation
// =============================================================================

// transformID names the continuous aggregation after its destination
// index.
func (s *Store) transformID() string {
	return strings.ToLower(s.accountsIndex)
}

func (s *Store) ensureTransform(ctx context.Context) error {
	exists, err := s.transformExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.createTransform(ctx); err != nil {
			return err
		}
	}
	started, err := s.transformStarted(ctx)
	if err != nil {
		return err
	}
	if !started {
		if err := s.startTransform(ctx); err != nil {
			return err
		}
	}
	log.Printf("[Storage] Transform %q loaded and started", s.transformID())
	return nil
}

func (s *Store) transformExists(ctx context.Context) (bool, error) {
	res, err := s.client.TransformGetTransform(
		s.client.TransformGetTransform.WithContext(ctx),
		s.client.TransformGetTransform.WithTransformID(s.transformID()),
	)
	if err != nil {
		return false, fmt.Errorf("transform check failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("transform check failed: %s", res.String())
	}
	return true, nil
}

// pivotGroupBy builds the transform's group_by clause. The keys are the
// dotted source paths: a pivot names destination fields after its
// group_by keys, so dotted keys reproduce the nested tags.<name>
// structure the accounts mapping declares and LookupBalance queries.
func (s *Store) pivotGroupBy() map[string]any {
	groupBy := make(map[string]any, len(s.schema))
	for name := range s.schema {
		groupBy[tagFieldPath(name)] = map[string]any{
			"terms": map[string]any{"field": tagFieldPath(name)},
		}
	}
	return groupBy
}

func (s *Store) createTransform(ctx context.Context) error {
	body := map[string]any{
		"source": map[string]any{"index": s.transactionsIndex},
		"dest":   map[string]any{"index": s.accountsIndex},
		"pivot": map[string]any{
			"group_by": s.pivotGroupBy(),
			"aggregations": map[string]any{
				"balance": map[string]any{"sum": map[string]any{"field": "delta"}},
			},
		},
		"sync": map[string]any{
			"time": map[string]any{
				"field": "@timestamp",
				"delay": formatDuration(s.syncDelay),
			},
		},
		"frequency":   formatDuration(s.frequency),
		"description": fmt.Sprintf("Balance aggregation over %q grouped by declared tags", s.transactionsIndex),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	res, err := s.client.TransformPutTransform(
		bytes.NewReader(payload),
		s.transformID(),
		s.client.TransformPutTransform.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("transform create failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("transform create failed: %s", res.String())
	}
	log.Printf("[Storage] Transform %q created", s.transformID())
	return nil
}

func (s *Store) transformStarted(ctx context.Context) (bool, error) {
	res, err := s.client.TransformGetTransformStats(
		s.transformID(),
		s.client.TransformGetTransformStats.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("transform stats failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return false, fmt.Errorf("transform stats failed: %s", res.String())
	}
	var stats struct {
		Transforms []struct {
			State string `json:"state"`
		} `json:"transforms"`
	}
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		return false, fmt.Errorf("failed to decode transform stats: %w", err)
	}
	if len(stats.Transforms) == 0 {
		return false, nil
	}
	return strings.EqualFold(stats.Transforms[0].State, "started"), nil
}

func (s *Store) startTransform(ctx context.Context) error {
	res, err := s.client.TransformStartTransform(
		s.transformID(),
		s.client.TransformStartTransform.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("transform start failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("transform start failed: %s", res.String())
	}
	log.Printf("[Storage] Transform %q started", s.transformID())
	return nil
}

// formatDuration renders a duration the way the transform API expects
// ("3s", "500ms"), not Go's "3s"/"1m30s" composites for odd values.
func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return fmt.Sprintf("%dms", int(d/time.Millisecond))
}
