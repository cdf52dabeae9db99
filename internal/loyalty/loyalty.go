// Package loyalty accrues points for completed orders.
package loyalty

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/store"
)

// Service awards points proportional to order totals.
type Service struct {
	store store.Store
	rate  decimal.Decimal // order-total amount worth one point
}

// NewService creates a loyalty service. rate must be positive.
func NewService(st store.Store, rate int64) *Service {
	if rate <= 0 {
		rate = 1
	}
	return &Service{store: st, rate: decimal.NewFromInt(rate)}
}

// Award accrues floor(total / rate) points for the user. A total below the
// rate awards nothing.
func (s *Service) Award(ctx context.Context, userID string, total decimal.Decimal) (int64, error) {
	points := total.Div(s.rate).Floor().IntPart()
	if points <= 0 {
		return 0, nil
	}
	if err := s.store.AddLoyaltyPoints(ctx, userID, points); err != nil {
		return 0, err
	}
	return points, nil
}

// HandleGet handles GET /api/v1/users/{userID}/loyalty.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	points, err := s.store.LoyaltyPoints(r.Context(), userID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to load loyalty points"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.LoyaltyAccount{UserID: userID, Points: points})
}
