package draw_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/draw"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/store"
	"github.com/prizeshop/checkout-engine/internal/ticket"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a conductor with a seeded rng, in-memory store,
// and chi router.
func newTestEnv(t *testing.T, seed uint64) (*draw.Conductor, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	rng := rand.New(rand.NewPCG(seed, 0))
	c := draw.NewConductor(ms, nil, rng)

	r := chi.NewRouter()
	r.Post("/api/v1/lottery/draws", c.HandleCreate)
	r.Get("/api/v1/lottery/draws", c.HandleList)
	r.Get("/api/v1/lottery/draws/{drawID}", c.HandleGet)
	r.Put("/api/v1/lottery/draws/{drawID}", c.HandleUpdate)
	r.Post("/api/v1/lottery/draws/{drawID}/conduct", c.HandleConduct)
	r.Get("/api/v1/lottery/draws/{drawID}/winner", c.HandleGetWinner)
	r.Get("/api/v1/lottery/winners", c.HandleListWinners)
	r.Post("/api/v1/lottery/winners/{winnerID}/claim", c.HandleClaim)

	return c, ms, r
}

// seedDraw creates an active draw directly in the store.
func seedDraw(t *testing.T, ms *store.MemoryStore, id, category string, prize float64) *model.LotteryDraw {
	t.Helper()
	dr := &model.LotteryDraw{
		ID:          id,
		Category:    category,
		PrizeAmount: d(prize),
		DrawDate:    time.Now().UTC(),
		Status:      model.DrawActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := ms.CreateDraw(context.Background(), dr); err != nil {
		t.Fatalf("failed to seed draw: %v", err)
	}
	return dr
}

// seedTickets issues n active tickets in the category via the issuer.
func seedTickets(t *testing.T, ms *store.MemoryStore, orderID, userID, category string, n int) []model.LotteryTicket {
	t.Helper()
	iss := ticket.NewIssuer(ms)
	tickets, err := iss.Issue(context.Background(), orderID, userID, []model.TicketEntitlement{
		{Category: category, ProductName: "test product", Quantity: n},
	})
	if err != nil {
		t.Fatalf("failed to seed tickets: %v", err)
	}
	return tickets
}

func TestConduct_SingleWinner(t *testing.T) {
	c, ms, _ := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)
	issued := seedTickets(t, ms, "order-1", "user1", "gold", 5)

	winner, err := c.Conduct(ctx, "draw-1")
	if err != nil {
		t.Fatalf("conduct failed: %v", err)
	}
	if winner.DrawID != "draw-1" {
		t.Errorf("winner references wrong draw %s", winner.DrawID)
	}
	if !winner.PrizeAmount.Equal(d(500)) {
		t.Errorf("expected prize=500, got %s", winner.PrizeAmount)
	}

	// Winning ticket must come from the eligible set.
	valid := false
	for _, tk := range issued {
		if tk.ID == winner.TicketID {
			valid = true
		}
	}
	if !valid {
		t.Errorf("winning ticket %s was not in the eligible set", winner.TicketID)
	}

	// Draw is now completed, tickets flipped: one winner, the rest drawn.
	dr, _ := ms.GetDraw(ctx, "draw-1")
	if dr.Status != model.DrawCompleted {
		t.Errorf("expected draw completed, got %s", dr.Status)
	}
	after, _ := ms.TicketsByOrder(ctx, "order-1")
	winners, drawn := 0, 0
	for _, tk := range after {
		switch tk.Status {
		case model.TicketWinner:
			winners++
		case model.TicketDrawn:
			drawn++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 winning ticket, got %d", winners)
	}
	if drawn != 4 {
		t.Errorf("expected 4 drawn tickets, got %d", drawn)
	}
}

func TestConduct_SecondConductRejected(t *testing.T) {
	c, ms, _ := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)
	seedTickets(t, ms, "order-1", "user1", "gold", 3)

	if _, err := c.Conduct(ctx, "draw-1"); err != nil {
		t.Fatalf("first conduct failed: %v", err)
	}

	_, err := c.Conduct(ctx, "draw-1")
	if !errors.Is(err, store.ErrDrawNotActive) {
		t.Fatalf("expected ErrDrawNotActive on second conduct, got %v", err)
	}

	winners, _ := ms.ListWinners(ctx)
	if len(winners) != 1 {
		t.Errorf("expected exactly 1 winner record, got %d", len(winners))
	}
}

func TestConduct_ConcurrentOnlyOneWins(t *testing.T) {
	c, ms, _ := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)
	seedTickets(t, ms, "order-1", "user1", "gold", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Conduct(ctx, "draw-1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly 1 successful conduct, got %d", succeeded)
	}
	winners, _ := ms.ListWinners(ctx)
	if len(winners) != 1 {
		t.Errorf("expected exactly 1 winner record, got %d", len(winners))
	}
}

func TestConduct_NoEligibleTickets(t *testing.T) {
	c, ms, _ := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)
	// Tickets exist, but in a different category.
	seedTickets(t, ms, "order-1", "user1", "electronics", 4)

	_, err := c.Conduct(ctx, "draw-1")
	if !errors.Is(err, draw.ErrNoEligibleTickets) {
		t.Fatalf("expected ErrNoEligibleTickets, got %v", err)
	}

	// Draw must stay active for a later attempt.
	dr, _ := ms.GetDraw(ctx, "draw-1")
	if dr.Status != model.DrawActive {
		t.Errorf("draw should remain active, got %s", dr.Status)
	}
}

func TestConduct_DrawNotFound(t *testing.T) {
	c, _, _ := newTestEnv(t, 1)

	_, err := c.Conduct(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConduct_UniformSelection(t *testing.T) {
	// Run many independent draws over the same 5-ticket layout and check
	// every ticket wins a plausible share of the time.
	const trials = 400
	wins := map[int64]int{}

	for trial := 0; trial < trials; trial++ {
		c, ms, _ := newTestEnv(t, uint64(trial)+1)
		ctx := context.Background()

		seedDraw(t, ms, "draw-1", "gold", 500)
		seedTickets(t, ms, "order-1", "user1", "gold", 5)

		winner, err := c.Conduct(ctx, "draw-1")
		if err != nil {
			t.Fatalf("trial %d conduct failed: %v", trial, err)
		}
		// The memory store numbers tickets deterministically from 100000,
		// so the same 5 numbers recur across trials.
		wins[winner.TicketNumber]++
	}

	if len(wins) != 5 {
		t.Fatalf("expected all 5 tickets to win at least once, got %d", len(wins))
	}
	for num, n := range wins {
		// Expected share is 80 of 400; flag anything wildly off.
		if n < 40 || n > 160 {
			t.Errorf("ticket %d won %d of %d trials, outside plausible range", num, n, trials)
		}
	}
}

// --- HTTP handlers ---

func TestHandleCreateAndConduct(t *testing.T) {
	_, ms, router := newTestEnv(t, 1)

	body, _ := json.Marshal(draw.DrawRequest{
		Category:    "gold",
		PrizeAmount: d(1000),
		DrawDate:    time.Now().UTC().Add(24 * time.Hour),
	})
	req := httptest.NewRequest("POST", "/api/v1/lottery/draws", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var dr model.LotteryDraw
	json.Unmarshal(w.Body.Bytes(), &dr)
	if dr.Status != model.DrawActive {
		t.Errorf("new draw should be active, got %s", dr.Status)
	}

	seedTickets(t, ms, "order-1", "user1", "gold", 3)

	req = httptest.NewRequest("POST", "/api/v1/lottery/draws/"+dr.ID+"/conduct", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 from conduct, got %d: %s", w.Code, w.Body.String())
	}
	var winner model.LotteryWinner
	json.Unmarshal(w.Body.Bytes(), &winner)
	if winner.DrawID != dr.ID {
		t.Errorf("winner references wrong draw %s", winner.DrawID)
	}

	// Second conduct over HTTP conflicts.
	req = httptest.NewRequest("POST", "/api/v1/lottery/draws/"+dr.ID+"/conduct", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second conduct, got %d", w.Code)
	}
}

func TestHandleCreate_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t, 1)

	body, _ := json.Marshal(draw.DrawRequest{PrizeAmount: d(100)})
	req := httptest.NewRequest("POST", "/api/v1/lottery/draws", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing category, got %d", w.Code)
	}

	body, _ = json.Marshal(draw.DrawRequest{Category: "gold", PrizeAmount: d(-5)})
	req = httptest.NewRequest("POST", "/api/v1/lottery/draws", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-positive prize, got %d", w.Code)
	}
}

func TestHandleUpdate_CompletedDrawRejected(t *testing.T) {
	c, ms, router := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)
	seedTickets(t, ms, "order-1", "user1", "gold", 2)
	if _, err := c.Conduct(ctx, "draw-1"); err != nil {
		t.Fatalf("conduct failed: %v", err)
	}

	body, _ := json.Marshal(draw.DrawRequest{PrizeAmount: d(900)})
	req := httptest.NewRequest("PUT", "/api/v1/lottery/draws/draw-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 updating completed draw, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleUpdate_CancelledDrawTerminal(t *testing.T) {
	_, ms, router := newTestEnv(t, 1)
	seedDraw(t, ms, "draw-1", "gold", 500)

	body, _ := json.Marshal(draw.DrawRequest{Status: "cancelled"})
	req := httptest.NewRequest("PUT", "/api/v1/lottery/draws/draw-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cancelling active draw failed: %d: %s", w.Code, w.Body.String())
	}

	// A cancelled draw cannot be revived.
	body, _ = json.Marshal(draw.DrawRequest{Status: "active"})
	req = httptest.NewRequest("PUT", "/api/v1/lottery/draws/draw-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 reviving cancelled draw, got %d: %s", w.Code, w.Body.String())
	}

	after, err := ms.GetDraw(context.Background(), "draw-1")
	if err != nil {
		t.Fatalf("get draw: %v", err)
	}
	if after.Status != model.DrawCancelled {
		t.Errorf("expected draw to stay cancelled, got %s", after.Status)
	}
}

func TestHandleUpdate_CannotForceCompleted(t *testing.T) {
	_, ms, router := newTestEnv(t, 1)
	seedDraw(t, ms, "draw-1", "gold", 500)

	body, _ := json.Marshal(draw.DrawRequest{Status: "completed"})
	req := httptest.NewRequest("PUT", "/api/v1/lottery/draws/draw-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 forcing completed status, got %d", w.Code)
	}
}

func TestHandleClaim(t *testing.T) {
	c, ms, router := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)
	seedTickets(t, ms, "order-1", "user1", "gold", 2)
	winner, err := c.Conduct(ctx, "draw-1")
	if err != nil {
		t.Fatalf("conduct failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/lottery/winners/"+winner.ID+"/claim", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var claimed model.LotteryWinner
	json.Unmarshal(w.Body.Bytes(), &claimed)
	if !claimed.Claimed {
		t.Error("winner should be marked claimed")
	}
}

func TestHandleGetWinner(t *testing.T) {
	c, ms, router := newTestEnv(t, 1)
	ctx := context.Background()

	seedDraw(t, ms, "draw-1", "gold", 500)

	// No winner until the draw is conducted.
	req := httptest.NewRequest("GET", "/api/v1/lottery/draws/draw-1/winner", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before conduction, got %d", w.Code)
	}

	seedTickets(t, ms, "order-1", "user1", "gold", 3)
	winner, err := c.Conduct(ctx, "draw-1")
	if err != nil {
		t.Fatalf("conduct failed: %v", err)
	}

	req = httptest.NewRequest("GET", "/api/v1/lottery/draws/draw-1/winner", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got model.LotteryWinner
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.ID != winner.ID {
		t.Errorf("expected winner %s, got %s", winner.ID, got.ID)
	}
}

func TestHandleClaim_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t, 1)

	req := httptest.NewRequest("POST", "/api/v1/lottery/winners/missing/claim", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
