package elastic

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tagledger/bank"
)

func testSchema() bank.Schema {
	return bank.Schema{
		"player-uuid": bank.KindString,
		"team-rank":   bank.KindInt,
		"multiplier":  bank.KindFloat,
		"vip":         bank.KindBool,
	}
}

// =============================================================================
// PREFIX VALIDATION
// =============================================================================

func TestNew_PrefixValidation(t *testing.T) {
	tests := []struct {
		prefix string
		ok     bool
	}{
		{"bank-", true},
		{"b", true},
		{"game-2-", true},
		{"0bank", true},
		{"-bank", false}, // can't start with a dash
		{"Bank-", false}, // upper case
		{"bank_", false}, // underscore
		{"", false},
		{strings.Repeat("a", 21), false}, // too long
		{strings.Repeat("a", 20), true},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			s, err := New(Config{
				Addresses: []string{"http://localhost:9200"},
				Prefix:    tt.prefix,
			}, testSchema())
			if !tt.ok {
				var schemaErr *bank.SchemaError
				require.ErrorAs(t, err, &schemaErr)
				assert.Equal(t, "storage.elasticsearch.prefix", schemaErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.prefix+"transactions", s.transactionsIndex)
			assert.Equal(t, tt.prefix+"accounts", s.accountsIndex)
		})
	}
}

func TestNew_DefaultsAggregationTunables(t *testing.T) {
	s, err := New(Config{Addresses: []string{"http://localhost:9200"}, Prefix: "bank-"}, testSchema())
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, s.syncDelay)
	assert.Equal(t, 2*time.Second, s.frequency)
}

// =============================================================================
// BULK RESPONSE HANDLING
// =============================================================================

func TestCheckBulkItems(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{
			name: "all created",
			body: `{"errors":false,"items":[{"create":{"status":201}}]}`,
			ok:   true,
		},
		{
			name: "duplicate id is an idempotent no-op",
			body: `{"errors":true,"items":[{"create":{"status":201}},{"create":{"status":409,"error":{"type":"version_conflict_engine_exception"}}}]}`,
			ok:   true,
		},
		{
			name: "server error fails the batch",
			body: `{"errors":true,"items":[{"create":{"status":500,"error":{"type":"es_rejected_execution_exception"}}}]}`,
			ok:   false,
		},
		{
			name: "mapping rejection fails the batch",
			body: `{"errors":true,"items":[{"create":{"status":400,"error":{"type":"mapper_parsing_exception"}}}]}`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkBulkItems(strings.NewReader(tt.body))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// =============================================================================
// BALANCE DECODING
// =============================================================================

func TestDecodeBalance(t *testing.T) {
	t.Run("no hits is balance zero", func(t *testing.T) {
		balance, err := decodeBalance(strings.NewReader(`{"hits":{"hits":[]}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("missing balance field is zero", func(t *testing.T) {
		balance, err := decodeBalance(strings.NewReader(`{"hits":{"hits":[{"_source":{}}]}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("double-typed sum decodes exactly", func(t *testing.T) {
		// 2^53+1 is not representable as a float64; the decimal path
		// must keep it intact.
		balance, err := decodeBalance(strings.NewReader(
			`{"hits":{"hits":[{"_source":{"balance":9007199254740993}}]}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(9007199254740993), balance)
	})

	t.Run("fractional sum truncates", func(t *testing.T) {
		balance, err := decodeBalance(strings.NewReader(
			`{"hits":{"hits":[{"_source":{"balance":100.0}}]}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("negative balance", func(t *testing.T) {
		balance, err := decodeBalance(strings.NewReader(
			`{"hits":{"hits":[{"_source":{"balance":-250}}]}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(-250), balance)
	})
}

// =============================================================================
// MAPPINGS AND TRANSFORM
// =============================================================================

func TestTagProperties_KindMapping(t *testing.T) {
	s, err := New(Config{Addresses: []string{"http://localhost:9200"}, Prefix: "bank-"}, testSchema())
	require.NoError(t, err)

	props := s.tagProperties()
	assert.Equal(t, map[string]any{"type": "keyword", "ignore_above": 256}, props["player-uuid"])
	assert.Equal(t, map[string]any{"type": "long"}, props["team-rank"])
	assert.Equal(t, map[string]any{"type": "double"}, props["multiplier"])
	assert.Equal(t, map[string]any{"type": "boolean"}, props["vip"])
}

func TestMappings_CarryFixedFields(t *testing.T) {
	s, err := New(Config{Addresses: []string{"http://localhost:9200"}, Prefix: "bank-"}, testSchema())
	require.NoError(t, err)

	txProps := s.transactionsMapping()["properties"].(map[string]any)
	for _, field := range []string{"@timestamp", "delta", "reason", "transactionId", "tags"} {
		assert.Contains(t, txProps, field)
	}

	accProps := s.accountsMapping()["properties"].(map[string]any)
	assert.Contains(t, accProps, "balance")
	assert.Contains(t, accProps, "tags")
}

func TestPivotGroupByMatchesLookupPaths(t *testing.T) {
	// The pivot names destination fields after its group_by keys. Those
	// keys, the accounts mapping and the term queries must all agree on
	// the tags.<name> path, or every balance read comes back empty.
	s, err := New(Config{Addresses: []string{"http://localhost:9200"}, Prefix: "bank-"}, testSchema())
	require.NoError(t, err)

	groupBy := s.pivotGroupBy()
	require.Len(t, groupBy, len(s.schema))
	for name := range s.schema {
		path := tagFieldPath(name)

		clause, ok := groupBy[path].(map[string]any)
		require.True(t, ok, "group_by must be keyed by %q", path)
		terms := clause["terms"].(map[string]any)
		assert.Equal(t, path, terms["field"])
	}
}

func TestTransformID_Lowercase(t *testing.T) {
	s, err := New(Config{Addresses: []string{"http://localhost:9200"}, Prefix: "bank-"}, testSchema())
	require.NoError(t, err)

	assert.Equal(t, "bank-accounts", s.transformID())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "3s", formatDuration(3*time.Second))
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "90s", formatDuration(90*time.Second))
	assert.Equal(t, "1500ms", formatDuration(1500*time.Millisecond))
}
