// Package rpcserver serves the account-query contract as plain
// JSON-over-HTTP rather than gRPC: no repo in the retrieved pack vendors
// google.golang.org/grpc, so --grpc-addr is honored by binding an
// http.ServeMux to that address instead of fabricating a gRPC stub.
package rpcserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"glasswally/internal/fusion"
)

// ResultLookup resolves the most recently fused result for an account.
// *orchestrator.Orchestrator satisfies this.
type ResultLookup interface {
	LastResult(accountID string) (fusion.Result, bool)
}

// Handler serves GET /v1/accounts/{account_id} per spec.md §6's
// account-query contract.
type Handler struct {
	lookup ResultLookup
	log    *slog.Logger
}

// NewHandler builds a Handler over lookup.
func NewHandler(lookup ResultLookup, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{lookup: lookup, log: log}
}

// RegisterRoutes registers the account-query route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/accounts/{account_id}", h.handleGetAccount)
}

// accountResponse is the wire shape of spec.md §6's account-query
// response: {account_id, status, composite_score, evidence[]}.
type accountResponse struct {
	AccountID      string   `json:"account_id"`
	Status         string   `json:"status"`
	CompositeScore float64  `json:"composite_score"`
	Evidence       []string `json:"evidence"`
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account_id")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "account_id is required")
		return
	}

	res, ok := h.lookup.LastResult(accountID)
	if !ok {
		h.writeJSON(w, http.StatusOK, accountResponse{
			AccountID: accountID,
			Status:    string(statusOK),
			Evidence:  []string{},
		})
		return
	}

	h.writeJSON(w, http.StatusOK, accountResponse{
		AccountID:      accountID,
		Status:         string(tierStatus(res.Tier)),
		CompositeScore: res.CompositeScore,
		Evidence:       res.Evidence,
	})
}

// status is one of the four external account states spec.md §6 names.
type status string

const (
	statusOK          status = "ok"
	statusWatch       status = "watch"
	statusRateLimited status = "rate_limited"
	statusSuspended   status = "suspended"
)

// tierStatus collapses the five internal enforcement tiers onto the
// four external statuses the account-query contract exposes: High and
// Critical both read as "suspended" externally, since the distinction
// between injecting a canary and suspending the account is an internal
// enforcement detail the caller does not need.
func tierStatus(tier fusion.Tier) status {
	switch tier {
	case fusion.TierNone:
		return statusOK
	case fusion.TierLow:
		return statusWatch
	case fusion.TierMedium:
		return statusRateLimited
	case fusion.TierHigh, fusion.TierCritical:
		return statusSuspended
	default:
		return statusOK
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	h.writeJSON(w, statusCode, map[string]string{
		"error": message,
		"code":  code,
	})
}
