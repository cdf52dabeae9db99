// Package ticket converts order entitlements into uniquely numbered
// lottery tickets. Issuance is idempotent per order: the first call
// persists the batch, every later call returns the same set.
package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/prizeshop/checkout-engine/internal/metrics"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/store"
)

// ErrNoEntitlements is returned when an issuance request carries no
// ticket-granting entitlements.
var ErrNoEntitlements = errors.New("ticket: no entitlements to issue")

// Issuer issues lottery tickets for orders.
type Issuer struct {
	store store.Store
}

// NewIssuer creates a ticket issuer.
func NewIssuer(st store.Store) *Issuer {
	return &Issuer{store: st}
}

// Issue persists one ticket per entitlement unit, each with a globally
// unique number, all linked to the order. If tickets already exist for the
// order the existing set is returned unchanged — the order id is the
// idempotency key. The batch insert is all-or-nothing.
func (i *Issuer) Issue(ctx context.Context, orderID, userID string, ents []model.TicketEntitlement) ([]model.LotteryTicket, error) {
	existing, err := i.store.TicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check existing tickets for order %s: %w", orderID, err)
	}
	if len(existing) > 0 {
		slog.Info("tickets already issued, returning existing set",
			"order", orderID,
			"count", len(existing),
		)
		return existing, nil
	}

	total := 0
	for _, e := range ents {
		total += e.Quantity
	}
	if total == 0 {
		return nil, ErrNoEntitlements
	}

	nums, err := i.store.NextTicketNumbers(ctx, total)
	if err != nil {
		return nil, fmt.Errorf("reserve ticket numbers: %w", err)
	}

	now := time.Now().UTC()
	tickets := make([]model.LotteryTicket, 0, total)
	n := 0
	for _, e := range ents {
		for k := 0; k < e.Quantity; k++ {
			tickets = append(tickets, model.LotteryTicket{
				ID:           uuid.New().String(),
				TicketNumber: nums[n],
				OrderID:      orderID,
				UserID:       userID,
				Category:     e.Category,
				ProductName:  e.ProductName,
				Status:       model.TicketActive,
				IssuedAt:     now,
			})
			n++
		}
	}

	if err := i.store.InsertTickets(ctx, tickets); err != nil {
		if errors.Is(err, store.ErrTicketsAlreadyIssued) {
			// Lost a race with a concurrent issuance for the same order.
			// The reserved numbers go unused; gaps in the sequence are fine.
			winners, lerr := i.store.TicketsByOrder(ctx, orderID)
			if lerr != nil {
				return nil, fmt.Errorf("load tickets for order %s: %w", orderID, lerr)
			}
			slog.Info("concurrent issuance detected, returning existing set",
				"order", orderID,
				"count", len(winners),
			)
			return winners, nil
		}
		return nil, fmt.Errorf("persist ticket batch for order %s: %w", orderID, err)
	}

	for _, e := range ents {
		metrics.TicketsIssued.WithLabelValues(e.Category).Add(float64(e.Quantity))
	}
	slog.Info("tickets issued",
		"order", orderID,
		"user", userID,
		"count", total,
	)
	return tickets, nil
}

// --- HTTP handlers ---

// GenerateRequest is the JSON body for POST /api/v1/lottery/tickets/generate.
type GenerateRequest struct {
	OrderID string                    `json:"order_id"`
	UserID  string                    `json:"user_id"`
	Tickets []model.TicketEntitlement `json:"tickets"`
}

// HandleGenerate handles POST /api/v1/lottery/tickets/generate.
// Re-posting the same order returns the already-issued set with 200.
func (i *Issuer) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.UserID == "" {
		writeError(w, "order_id and user_id are required", http.StatusBadRequest)
		return
	}

	tickets, err := i.Issue(r.Context(), req.OrderID, req.UserID, req.Tickets)
	if err != nil {
		if errors.Is(err, ErrNoEntitlements) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "ticket issuance failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tickets)
}

// HandleList handles GET /api/v1/lottery/tickets?user_id=...|order_id=...
func (i *Issuer) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		tickets []model.LotteryTicket
		err     error
	)
	switch {
	case r.URL.Query().Get("order_id") != "":
		tickets, err = i.store.TicketsByOrder(ctx, r.URL.Query().Get("order_id"))
	case r.URL.Query().Get("user_id") != "":
		tickets, err = i.store.TicketsByUser(ctx, r.URL.Query().Get("user_id"))
	default:
		writeError(w, "order_id or user_id query parameter is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, "failed to list tickets", http.StatusInternalServerError)
		return
	}
	if tickets == nil {
		tickets = []model.LotteryTicket{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tickets)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
