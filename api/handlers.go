/*
handlers.go - HTTP handlers for the account operations

PURPOSE:
  Thin translation layer between HTTP and the bank.Service façade: decode
  the request, coerce tags through the schema, call the operation, map
  domain errors to status codes.

ERROR MAPPING:
  InvalidAmount / EmptyTags / schema violations -> 400
  OperationCancelled (pre-commit veto)          -> 409
  AggregationUnavailable                        -> 503

SEE ALSO:
  - server.go: Route wiring
  - bank/service.go: The operations behind these handlers
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/tagledger/bank"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *bank.Service
	Registry *bank.Registry
	Schema   bank.Schema
	Buffer   *bank.Buffer
	Cache    *bank.Cache
	Backend  bank.Backend
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// QueryBalance returns the balance for a tag-set.
func (h *Handler) QueryBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tags, err := h.Schema.Coerce(req.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tags", err)
		return
	}
	balance, err := h.Service.Get(r.Context(), tags)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Tags: tags.Raw(), Balance: balance})
}

// AddMoney appends a positive or negative delta.
func (h *Handler) AddMoney(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(tags bank.TagSet, amount int64, reason string) (uuid.UUID, error) {
		return h.Service.Add(r.Context(), tags, amount, reason)
	})
}

// RemoveMoney appends the negated amount.
func (h *Handler) RemoveMoney(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(tags bank.TagSet, amount int64, reason string) (uuid.UUID, error) {
		return h.Service.Remove(r.Context(), tags, amount, reason)
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request,
	op func(tags bank.TagSet, amount int64, reason string) (uuid.UUID, error)) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tags, err := h.Schema.Coerce(req.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tags", err)
		return
	}
	id, err := op(tags, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, OperationDTO{TransactionID: id.String()})
}

// SetMoney computes target - current and appends the difference.
// Non-atomic; see the service contract.
func (h *Handler) SetMoney(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tags, err := h.Schema.Coerce(req.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tags", err)
		return
	}
	id, err := h.Service.Set(r.Context(), tags, req.Target, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, OperationDTO{TransactionID: id.String()})
}

// =============================================================================
// PRINCIPAL HANDLERS
// =============================================================================

// SetPrincipalTags registers a principal's tag-set (once).
func (h *Handler) SetPrincipalTags(w http.ResponseWriter, r *http.Request) {
	principal, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal id", err)
		return
	}
	var req SetTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tags, err := h.Schema.Coerce(req.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tags", err)
		return
	}
	if err := h.Registry.SetTags(principal, tags); err != nil {
		if errors.Is(err, bank.ErrPrincipalExists) {
			writeError(w, http.StatusConflict, "Principal already registered", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPrincipalBalances returns one balance per registered tag.
func (h *Handler) GetPrincipalBalances(w http.ResponseWriter, r *http.Request) {
	principal, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal id", err)
		return
	}
	if h.Registry.Tags(principal) == nil {
		writeError(w, http.StatusNotFound, "Principal not registered", nil)
		return
	}
	balances, err := h.Registry.Balances(r.Context(), principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PrincipalBalancesDTO{
		Principal: principal.String(),
		Balances:  balances,
	})
}

// ForgetPrincipal drops a principal's registration.
func (h *Handler) ForgetPrincipal(w http.ResponseWriter, r *http.Request) {
	principal, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal id", err)
		return
	}
	h.Registry.Forget(principal)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STATUS
// =============================================================================

// Status reports readiness, pending flush depth and cache size.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusDTO{
		Ready:        h.Backend.Ready(r.Context()),
		PendingFlush: h.Buffer.Pending(),
		CacheEntries: h.Cache.Len(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeDomainError(w http.ResponseWriter, err error) {
	var schemaErr *bank.SchemaError
	switch {
	case errors.Is(err, bank.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Amount can't be 0", err)
	case errors.Is(err, bank.ErrEmptyTags):
		writeError(w, http.StatusBadRequest, "Empty tag-set not allowed", err)
	case errors.As(err, &schemaErr):
		writeError(w, http.StatusBadRequest, "Invalid tags", err)
	case errors.Is(err, bank.ErrOperationCancelled):
		writeError(w, http.StatusConflict, "Operation cancelled", err)
	case errors.Is(err, bank.ErrAggregationUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Balance lookup unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Details = err.Error()
	}
	writeJSON(w, status, dto)
}
