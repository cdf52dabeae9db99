package draw

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/store"
)

// DrawRequest is the JSON body for draw create and update.
type DrawRequest struct {
	Category    string          `json:"category"`
	PrizeAmount decimal.Decimal `json:"prize_amount"`
	DrawDate    time.Time       `json:"draw_date"`
	Status      string          `json:"status,omitempty"`
}

// HandleCreate handles POST /api/v1/lottery/draws.
func (c *Conductor) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req DrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Category == "" {
		writeError(w, "category is required", http.StatusBadRequest)
		return
	}
	if !req.PrizeAmount.IsPositive() {
		writeError(w, "prize_amount must be positive", http.StatusBadRequest)
		return
	}

	d := &model.LotteryDraw{
		ID:          uuid.New().String(),
		Category:    req.Category,
		PrizeAmount: req.PrizeAmount,
		DrawDate:    req.DrawDate,
		Status:      model.DrawActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.CreateDraw(r.Context(), d); err != nil {
		writeError(w, "failed to create draw", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(d)
}

// HandleUpdate handles PUT /api/v1/lottery/draws/{drawID}.
// Completed draws are terminal and reject any update.
func (c *Conductor) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	drawID := chi.URLParam(r, "drawID")

	var req DrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	existing, err := c.store.GetDraw(r.Context(), drawID)
	if err != nil {
		writeError(w, "draw not found", http.StatusNotFound)
		return
	}

	updated := *existing
	if req.Category != "" {
		updated.Category = req.Category
	}
	if req.PrizeAmount.IsPositive() {
		updated.PrizeAmount = req.PrizeAmount
	}
	if !req.DrawDate.IsZero() {
		updated.DrawDate = req.DrawDate
	}
	if req.Status != "" {
		switch model.DrawStatus(req.Status) {
		case model.DrawActive, model.DrawCancelled:
			updated.Status = model.DrawStatus(req.Status)
		default:
			// Completion only happens through conduction.
			writeError(w, "status must be active or cancelled", http.StatusBadRequest)
			return
		}
	}

	if err := c.store.UpdateDraw(r.Context(), &updated); err != nil {
		if errors.Is(err, store.ErrDrawNotActive) {
			writeError(w, "draw is no longer active", http.StatusConflict)
			return
		}
		writeError(w, "failed to update draw", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// HandleGet handles GET /api/v1/lottery/draws/{drawID}.
func (c *Conductor) HandleGet(w http.ResponseWriter, r *http.Request) {
	d, err := c.store.GetDraw(r.Context(), chi.URLParam(r, "drawID"))
	if err != nil {
		writeError(w, "draw not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

// HandleList handles GET /api/v1/lottery/draws.
func (c *Conductor) HandleList(w http.ResponseWriter, r *http.Request) {
	draws, err := c.store.ListDraws(r.Context())
	if err != nil {
		writeError(w, "failed to list draws", http.StatusInternalServerError)
		return
	}
	if draws == nil {
		draws = []model.LotteryDraw{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(draws)
}

// HandleConduct handles POST /api/v1/lottery/draws/{drawID}/conduct.
func (c *Conductor) HandleConduct(w http.ResponseWriter, r *http.Request) {
	winner, err := c.Conduct(r.Context(), chi.URLParam(r, "drawID"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "draw not found", http.StatusNotFound)
		case errors.Is(err, store.ErrDrawNotActive):
			writeError(w, "draw is not active", http.StatusConflict)
		case errors.Is(err, ErrNoEligibleTickets):
			writeError(w, "no eligible tickets for this draw", http.StatusConflict)
		case errors.Is(err, ErrConcurrentConduct):
			writeError(w, "draw conduction already in progress", http.StatusConflict)
		default:
			writeError(w, "draw conduction failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(winner)
}

// HandleGetWinner handles GET /api/v1/lottery/draws/{drawID}/winner.
func (c *Conductor) HandleGetWinner(w http.ResponseWriter, r *http.Request) {
	winner, err := c.store.WinnerByDraw(r.Context(), chi.URLParam(r, "drawID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "no winner recorded for this draw", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load winner", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(winner)
}

// HandleListWinners handles GET /api/v1/lottery/winners.
func (c *Conductor) HandleListWinners(w http.ResponseWriter, r *http.Request) {
	winners, err := c.store.ListWinners(r.Context())
	if err != nil {
		writeError(w, "failed to list winners", http.StatusInternalServerError)
		return
	}
	if winners == nil {
		winners = []model.LotteryWinner{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(winners)
}

// HandleClaim handles POST /api/v1/lottery/winners/{winnerID}/claim.
func (c *Conductor) HandleClaim(w http.ResponseWriter, r *http.Request) {
	winner, err := c.store.ClaimWinner(r.Context(), chi.URLParam(r, "winnerID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "winner not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to claim prize", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(winner)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
