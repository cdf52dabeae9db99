// Package draw resolves lottery draws: it snapshots the eligible ticket
// set, picks exactly one winner uniformly at random, and commits the
// result atomically.
package draw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prizeshop/checkout-engine/internal/metrics"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/notify"
	"github.com/prizeshop/checkout-engine/internal/store"
)

var (
	// ErrNoEligibleTickets is returned when no active ticket exists in the
	// draw's category. The draw state is unchanged.
	ErrNoEligibleTickets = errors.New("draw: no eligible tickets")

	// ErrConcurrentConduct is returned when another conduction of the same
	// draw is in flight. Never auto-retried; surfaced to the operator.
	ErrConcurrentConduct = errors.New("draw: conduction already in progress")
)

// Conductor resolves draws to exactly one winner. A per-draw lock covers
// the snapshot→commit window (single-instance); the store's guarded
// active→completed transition backstops it at the database, so two
// conduct calls can never both record a winner.
type Conductor struct {
	store store.Store
	hub   *notify.Hub // optional, nil disables broadcasts

	mu    sync.Mutex
	rng   *rand.Rand
	locks map[string]*sync.Mutex
}

// NewConductor creates a draw conductor. Pass nil rng for a time-seeded
// source; tests inject a fixed seed for reproducible selections.
func NewConductor(st store.Store, hub *notify.Hub, rng *rand.Rand) *Conductor {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return &Conductor{
		store: st,
		hub:   hub,
		rng:   rng,
		locks: make(map[string]*sync.Mutex),
	}
}

// drawLock returns the mutex guarding one draw's conduction.
func (c *Conductor) drawLock(drawID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[drawID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[drawID] = l
	}
	return l
}

// pick returns a uniform-random index in [0, n).
func (c *Conductor) pick(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(n)
}

// Conduct resolves the draw to a single winner. Every ticket in the
// eligible set has probability exactly 1/N of selection. The winner
// record, ticket status flips, and the draw's active→completed transition
// commit atomically; on any failure the draw stays active and untouched.
func (c *Conductor) Conduct(ctx context.Context, drawID string) (*model.LotteryWinner, error) {
	lock := c.drawLock(drawID)
	if !lock.TryLock() {
		return nil, ErrConcurrentConduct
	}
	defer lock.Unlock()

	d, err := c.store.GetDraw(ctx, drawID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DrawActive {
		return nil, store.ErrDrawNotActive
	}

	// Snapshot the eligible set. Tickets issued after this point belong to
	// the next draw.
	eligible, err := c.store.ActiveTicketsByCategory(ctx, d.Category)
	if err != nil {
		return nil, fmt.Errorf("load eligible tickets for draw %s: %w", drawID, err)
	}
	if len(eligible) == 0 {
		metrics.DrawsConducted.WithLabelValues("no_eligible").Inc()
		return nil, ErrNoEligibleTickets
	}

	i := c.pick(len(eligible))
	winning := eligible[i]

	loserIDs := make([]string, 0, len(eligible)-1)
	for k, t := range eligible {
		if k != i {
			loserIDs = append(loserIDs, t.ID)
		}
	}

	winner := &model.LotteryWinner{
		ID:           uuid.New().String(),
		DrawID:       drawID,
		TicketID:     winning.ID,
		TicketNumber: winning.TicketNumber,
		UserID:       winning.UserID,
		PrizeAmount:  d.PrizeAmount,
		Claimed:      false,
		CreatedAt:    time.Now().UTC(),
	}

	if err := c.store.CompleteDraw(ctx, drawID, winner, loserIDs); err != nil {
		if errors.Is(err, store.ErrDrawNotActive) {
			metrics.DrawsConducted.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	metrics.DrawsConducted.WithLabelValues("completed").Inc()
	slog.Info("draw completed",
		"draw", drawID,
		"category", d.Category,
		"eligible", len(eligible),
		"winning_ticket", winning.TicketNumber,
		"user", winning.UserID,
		"prize", d.PrizeAmount.String(),
	)

	if c.hub != nil {
		c.hub.Broadcast(notify.Event{
			Type:         "draw_completed",
			DrawID:       drawID,
			Category:     d.Category,
			TicketNumber: winning.TicketNumber,
			UserID:       winning.UserID,
			PrizeAmount:  d.PrizeAmount.String(),
		})
	}
	return winner, nil
}
