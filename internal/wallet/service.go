// Package wallet exposes the wallet ledger: atomic balance deduction and
// top-up, each producing one immutable ledger entry.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/metrics"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/store"
)

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("wallet: amount must be positive")

// Service mediates all wallet balance mutations. No caller mutates a
// balance except through Deduct and TopUp, so the ledger is complete.
type Service struct {
	store store.Store
}

// NewService creates a wallet service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Deduct atomically subtracts amount from the user's balance, appending a
// ledger entry. Returns store.ErrInsufficientFunds with no mutation when
// the balance cannot cover the amount.
func (s *Service) Deduct(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entry, err := s.store.DebitWallet(ctx, userID, amount, reason, orderID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			metrics.WalletRejections.Inc()
		}
		return nil, err
	}

	slog.Info("wallet deducted",
		"user", userID,
		"amount", amount.String(),
		"reason", reason,
	)
	return entry, nil
}

// TopUp atomically adds amount to the user's balance, appending a ledger
// entry. Creates the account on first top-up.
func (s *Service) TopUp(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entry, err := s.store.CreditWallet(ctx, userID, amount, reason, "")
	if err != nil {
		return nil, err
	}

	slog.Info("wallet topped up",
		"user", userID,
		"amount", amount.String(),
		"reason", reason,
	)
	return entry, nil
}

// Refund credits back a deduction tied to a failed order attempt.
func (s *Service) Refund(ctx context.Context, userID string, amount decimal.Decimal, orderID string) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entry, err := s.store.CreditWallet(ctx, userID, amount, "refund", orderID)
	if err != nil {
		return nil, err
	}

	slog.Warn("wallet refunded",
		"user", userID,
		"amount", amount.String(),
		"order", orderID,
	)
	return entry, nil
}

// Balance returns the current account state.
func (s *Service) Balance(ctx context.Context, userID string) (*model.WalletAccount, error) {
	return s.store.GetWallet(ctx, userID)
}

// --- HTTP handlers ---

// TopUpRequest is the JSON body for POST /api/v1/wallet/{userID}/topup.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AccountResponse is the wallet view returned to clients: current balance
// plus the full ledger, so the balance is auditable by summation.
type AccountResponse struct {
	UserID  string              `json:"user_id"`
	Balance decimal.Decimal     `json:"balance"`
	Entries []model.LedgerEntry `json:"entries"`
}

// HandleTopUp handles POST /api/v1/wallet/{userID}/topup.
func (s *Service) HandleTopUp(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := s.TopUp(r.Context(), userID, req.Amount, "top-up"); err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "top-up failed", http.StatusInternalServerError)
		return
	}

	acct, err := s.store.GetWallet(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acct)
}

// HandleGetAccount handles GET /api/v1/wallet/{userID}.
func (s *Service) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	acct, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}

	entries, err := s.store.LedgerEntriesByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountResponse{
		UserID:  userID,
		Balance: acct.Balance,
		Entries: entries,
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
