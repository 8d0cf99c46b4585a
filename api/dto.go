/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the external contract. Tag values arrive as plain JSON values and are
  coerced against the configured schema in the handlers - never
  type-sniffed.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

SEE ALSO:
  - handlers.go:  Uses these types
  - bank/tags.go: Schema.Coerce
*/
package api

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BalanceRequest asks for the balance of a tag-set.
type BalanceRequest struct {
	Tags map[string]any `json:"tags"`
}

// OperationRequest is shared by add and remove.
type OperationRequest struct {
	Tags   map[string]any `json:"tags"`
	Amount int64          `json:"amount"`
	Reason string         `json:"reason,omitempty"`
}

// SetRequest overwrites a tag-set's balance (non-atomically).
type SetRequest struct {
	Tags   map[string]any `json:"tags"`
	Target int64          `json:"target"`
	Reason string         `json:"reason,omitempty"`
}

// SetTagsRequest registers a principal's tag-set.
type SetTagsRequest struct {
	Tags map[string]any `json:"tags"`
}

// BalanceDTO is the balance of a tag-set.
type BalanceDTO struct {
	Tags    map[string]any `json:"tags"`
	Balance int64          `json:"balance"`
}

// OperationDTO acknowledges an accepted mutation. The transaction is
// buffered, not yet durable, when this is returned.
type OperationDTO struct {
	TransactionID string `json:"transaction_id"`
}

// PrincipalBalancesDTO is one balance per registered tag.
type PrincipalBalancesDTO struct {
	Principal string           `json:"principal"`
	Balances  map[string]int64 `json:"balances"`
}

// StatusDTO reports subsystem health for operators.
type StatusDTO struct {
	Ready        bool `json:"ready"`
	PendingFlush int  `json:"pending_flush"`
	CacheEntries int  `json:"cache_entries"`
}

// ErrorDTO is the uniform error body.
type ErrorDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
