package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tagledger/api"
	"github.com/warp/tagledger/bank"
	"github.com/warp/tagledger/bank/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	router http.Handler
	mem    *store.Memory
	buffer *bank.Buffer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	schema := bank.Schema{
		"player-uuid": bank.KindString,
		"team-rank":   bank.KindInt,
	}
	mem := store.NewMemory()
	buffer := bank.NewBuffer(mem, time.Minute)
	cache := bank.NewCache(0, 16)
	service := bank.NewService(mem, buffer, cache, schema)
	h := &api.Handler{
		Service:  service,
		Registry: bank.NewRegistry(service),
		Schema:   schema,
		Buffer:   buffer,
		Cache:    cache,
		Backend:  mem,
	}
	return &env{router: api.NewRouter(h), mem: mem, buffer: buffer}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// settle flushes the buffer and refreshes the materialized view so a
// subsequent query can see the mutation.
func (e *env) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, e.buffer.Flush(context.Background()))
	e.mem.Refresh()
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// =============================================================================
// ACCOUNT ROUTES
// =============================================================================

func TestAddThenQuery(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/accounts/add", map[string]any{
		"tags":   map[string]any{"player-uuid": "abc"},
		"amount": 100,
		"reason": "grant",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	op := decodeBody[api.OperationDTO](t, rec)
	_, err := uuid.Parse(op.TransactionID)
	assert.NoError(t, err, "acknowledgment carries the transaction ID")

	e.settle(t)

	rec = e.do(t, http.MethodPost, "/api/accounts/query", map[string]any{
		"tags": map[string]any{"player-uuid": "abc"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[api.BalanceDTO](t, rec)
	assert.Equal(t, int64(100), balance.Balance)
}

func TestAdd_ZeroAmount(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/accounts/add", map[string]any{
		"tags":   map[string]any{"player-uuid": "abc"},
		"amount": 0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Amount can't be 0", decodeBody[api.ErrorDTO](t, rec).Error)
}

func TestAdd_UndeclaredTag(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/accounts/add", map[string]any{
		"tags":   map[string]any{"favorite-color": "red"},
		"amount": 10,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdd_WrongTagType(t *testing.T) {
	e := newEnv(t)

	// team-rank is declared int; "third" can't be coerced
	rec := e.do(t, http.MethodPost, "/api/accounts/add", map[string]any{
		"tags":   map[string]any{"team-rank": "third"},
		"amount": 10,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_EmptyTags(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/accounts/query", map[string]any{
		"tags": map[string]any{},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveThenSet(t *testing.T) {
	e := newEnv(t)
	tags := map[string]any{"player-uuid": "abc"}

	rec := e.do(t, http.MethodPost, "/api/accounts/remove", map[string]any{
		"tags": tags, "amount": 30, "reason": "purchase",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	e.settle(t)

	rec = e.do(t, http.MethodPost, "/api/accounts/set", map[string]any{
		"tags": tags, "target": 50, "reason": "correction",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	e.settle(t)

	rec = e.do(t, http.MethodPost, "/api/accounts/query", map[string]any{"tags": tags})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(50), decodeBody[api.BalanceDTO](t, rec).Balance)
}

func TestAdd_MalformedBody(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/add", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PRINCIPAL ROUTES
// =============================================================================

func TestPrincipalLifecycle(t *testing.T) {
	e := newEnv(t)
	principal := uuid.New().String()
	tagsBody := map[string]any{"tags": map[string]any{"player-uuid": "abc"}}

	// Register once: 204. Register again: 409.
	rec := e.do(t, http.MethodPut, "/api/principals/"+principal+"/tags", tagsBody)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodPut, "/api/principals/"+principal+"/tags", tagsBody)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Fund the single-tag account and read it back through the principal.
	rec = e.do(t, http.MethodPost, "/api/accounts/add", map[string]any{
		"tags": map[string]any{"player-uuid": "abc"}, "amount": 100, "reason": "grant",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	e.settle(t)

	rec = e.do(t, http.MethodGet, "/api/principals/"+principal+"/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody[api.PrincipalBalancesDTO](t, rec)
	assert.Equal(t, map[string]int64{"player-uuid": 100}, balances.Balances)

	// Forget, then the principal is gone.
	rec = e.do(t, http.MethodDelete, "/api/principals/"+principal, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/principals/"+principal+"/balances", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrincipal_BadID(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/principals/not-a-uuid/balances", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// STATUS
// =============================================================================

func TestStatus(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/accounts/add", map[string]any{
		"tags": map[string]any{"player-uuid": "abc"}, "amount": 10,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[api.StatusDTO](t, rec)
	assert.True(t, status.Ready)
	assert.Equal(t, 1, status.PendingFlush)
	assert.Equal(t, 0, status.CacheEntries)
}
