package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Atomic operations are
// never served from cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Orders ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.cacheJSON(ctx, orderKey(o.ID), o)
	return nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, orderKey(id), o)
	return o, nil
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.ListOrdersByUser(ctx, userID)
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id string, ps model.PaymentStatus, fs model.FulfillmentStatus, paidAt *time.Time) error {
	if err := s.primary.UpdateOrderStatus(ctx, id, ps, fs, paidAt); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, orderKey(id))
	return nil
}

func (s *CachedStore) ListStaleAwaitingPayment(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	return s.primary.ListStaleAwaitingPayment(ctx, cutoff)
}

func (s *CachedStore) ListConfirmedOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.ListConfirmedOrders(ctx)
}

// --- Wallet ledger ---
// Balance reads always hit the primary: the balance is the contended value
// the compare-and-subtract serializes on, and a stale read here would show
// phantom funds.

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error) {
	return s.primary.GetWallet(ctx, userID)
}

func (s *CachedStore) DebitWallet(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	return s.primary.DebitWallet(ctx, userID, amount, reason, orderID)
}

func (s *CachedStore) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	return s.primary.CreditWallet(ctx, userID, amount, reason, orderID)
}

func (s *CachedStore) LedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerEntriesByUser(ctx, userID)
}

// --- Lottery tickets ---

func (s *CachedStore) NextTicketNumbers(ctx context.Context, n int) ([]int64, error) {
	return s.primary.NextTicketNumbers(ctx, n)
}

func (s *CachedStore) InsertTickets(ctx context.Context, tickets []model.LotteryTicket) error {
	if err := s.primary.InsertTickets(ctx, tickets); err != nil {
		return err
	}
	if len(tickets) > 0 {
		s.rdb.Del(ctx, orderTicketsKey(tickets[0].OrderID))
	}
	return nil
}

func (s *CachedStore) TicketsByOrder(ctx context.Context, orderID string) ([]model.LotteryTicket, error) {
	data, err := s.rdb.Get(ctx, orderTicketsKey(orderID)).Bytes()
	if err == nil {
		var tickets []model.LotteryTicket
		if json.Unmarshal(data, &tickets) == nil {
			return tickets, nil
		}
	}

	tickets, err := s.primary.TicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(tickets) > 0 {
		// Only cache complete sets; an empty result may be about to change.
		s.cacheJSON(ctx, orderTicketsKey(orderID), tickets)
	}
	return tickets, nil
}

func (s *CachedStore) TicketsByUser(ctx context.Context, userID string) ([]model.LotteryTicket, error) {
	return s.primary.TicketsByUser(ctx, userID)
}

func (s *CachedStore) ActiveTicketsByCategory(ctx context.Context, category string) ([]model.LotteryTicket, error) {
	// The eligible-set snapshot must come from the source of truth.
	return s.primary.ActiveTicketsByCategory(ctx, category)
}

// --- Draws & winners ---

func (s *CachedStore) CreateDraw(ctx context.Context, d *model.LotteryDraw) error {
	if err := s.primary.CreateDraw(ctx, d); err != nil {
		return err
	}
	s.cacheJSON(ctx, drawKey(d.ID), d)
	return nil
}

func (s *CachedStore) GetDraw(ctx context.Context, id string) (*model.LotteryDraw, error) {
	data, err := s.rdb.Get(ctx, drawKey(id)).Bytes()
	if err == nil {
		var d model.LotteryDraw
		if json.Unmarshal(data, &d) == nil {
			return &d, nil
		}
	}

	d, err := s.primary.GetDraw(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, drawKey(id), d)
	return d, nil
}

func (s *CachedStore) ListDraws(ctx context.Context) ([]model.LotteryDraw, error) {
	return s.primary.ListDraws(ctx)
}

func (s *CachedStore) UpdateDraw(ctx context.Context, d *model.LotteryDraw) error {
	if err := s.primary.UpdateDraw(ctx, d); err != nil {
		return err
	}
	s.rdb.Del(ctx, drawKey(d.ID))
	return nil
}

func (s *CachedStore) CompleteDraw(ctx context.Context, drawID string, winner *model.LotteryWinner, loserTicketIDs []string) error {
	if err := s.primary.CompleteDraw(ctx, drawID, winner, loserTicketIDs); err != nil {
		return err
	}
	s.rdb.Del(ctx, drawKey(drawID))
	return nil
}

func (s *CachedStore) WinnerByDraw(ctx context.Context, drawID string) (*model.LotteryWinner, error) {
	return s.primary.WinnerByDraw(ctx, drawID)
}

func (s *CachedStore) ListWinners(ctx context.Context) ([]model.LotteryWinner, error) {
	return s.primary.ListWinners(ctx)
}

func (s *CachedStore) ClaimWinner(ctx context.Context, winnerID string) (*model.LotteryWinner, error) {
	return s.primary.ClaimWinner(ctx, winnerID)
}

// --- Loyalty ---

func (s *CachedStore) AddLoyaltyPoints(ctx context.Context, userID string, points int64) error {
	return s.primary.AddLoyaltyPoints(ctx, userID, points)
}

func (s *CachedStore) LoyaltyPoints(ctx context.Context, userID string) (int64, error) {
	return s.primary.LoyaltyPoints(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderKey(id string) string        { return fmt.Sprintf("order:%s", id) }
func drawKey(id string) string         { return fmt.Sprintf("draw:%s", id) }
func orderTicketsKey(id string) string { return fmt.Sprintf("order-tickets:%s", id) }
