package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	orders     map[string]*model.Order
	ledger     []model.LedgerEntry
	balances   map[string]decimal.Decimal
	tickets    map[string]*model.LotteryTicket
	ticketNums map[int64]bool
	issuances  map[string]bool
	nextNum    int64
	draws      map[string]*model.LotteryDraw
	winners    map[string]*model.LotteryWinner
	loyalty    map[string]int64
}

// NewMemoryStore creates a new in-memory store. Ticket numbers start at
// 100000 so they read like real serials in fixtures.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[string]*model.Order),
		balances:   make(map[string]decimal.Decimal),
		tickets:    make(map[string]*model.LotteryTicket),
		ticketNums: make(map[int64]bool),
		issuances:  make(map[string]bool),
		nextNum:    100000,
		draws:      make(map[string]*model.LotteryDraw),
		winners:    make(map[string]*model.LotteryWinner),
		loyalty:    make(map[string]int64),
	}
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	cp.Items = append([]model.LineItem(nil), o.Items...)
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = append([]model.LineItem(nil), o.Items...)
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			cp := *o
			cp.Items = append([]model.LineItem(nil), o.Items...)
			orders = append(orders, cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, ps model.PaymentStatus, fs model.FulfillmentStatus, paidAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.FulfillmentStatus == model.FulfillmentCompleted {
		return ErrOrderFinal
	}
	o.PaymentStatus = ps
	o.FulfillmentStatus = fs
	if paidAt != nil {
		o.PaidAt = paidAt
	}
	return nil
}

func (s *MemoryStore) ListStaleAwaitingPayment(_ context.Context, cutoff time.Time) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []model.Order
	for _, o := range s.orders {
		if o.PaymentMethod == model.PaymentQiCardGateway &&
			o.FulfillmentStatus == model.FulfillmentPendingPayment &&
			o.PaymentStatus == model.PaymentPending &&
			o.CreatedAt.Before(cutoff) {
			cp := *o
			cp.Items = append([]model.LineItem(nil), o.Items...)
			stale = append(stale, cp)
		}
	}
	return stale, nil
}

func (s *MemoryStore) ListConfirmedOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var confirmed []model.Order
	for _, o := range s.orders {
		if o.FulfillmentStatus == model.FulfillmentConfirmed {
			cp := *o
			cp.Items = append([]model.LineItem(nil), o.Items...)
			confirmed = append(confirmed, cp)
		}
	}
	return confirmed, nil
}

// --- Wallet ledger ---

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.WalletAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &model.WalletAccount{UserID: userID, Balance: s.balances[userID]}, nil
}

func (s *MemoryStore) DebitWallet(_ context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[userID]
	if balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	s.balances[userID] = balance.Sub(amount)

	entry := model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Delta:     amount.Neg(),
		Reason:    reason,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
	s.ledger = append(s.ledger, entry)
	return &entry, nil
}

func (s *MemoryStore) CreditWallet(_ context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[userID] = s.balances[userID].Add(amount)

	entry := model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Delta:     amount,
		Reason:    reason,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
	s.ledger = append(s.ledger, entry)
	return &entry, nil
}

func (s *MemoryStore) LedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// --- Lottery tickets ---

func (s *MemoryStore) NextTicketNumbers(_ context.Context, n int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nums := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		nums = append(nums, s.nextNum)
		s.nextNum++
	}
	return nums, nil
}

func (s *MemoryStore) InsertTickets(_ context.Context, tickets []model.LotteryTicket) error {
	if len(tickets) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Issuance is first-writer-wins per order; the check and the writes
	// share the lock so a losing batch leaves no trace.
	if s.issuances[tickets[0].OrderID] {
		return ErrTicketsAlreadyIssued
	}
	// Validate the whole batch before writing anything.
	seen := make(map[int64]bool, len(tickets))
	for _, t := range tickets {
		if s.ticketNums[t.TicketNumber] || seen[t.TicketNumber] {
			return ErrDuplicateTicketNumber
		}
		seen[t.TicketNumber] = true
	}
	for i := range tickets {
		cp := tickets[i]
		s.tickets[cp.ID] = &cp
		s.ticketNums[cp.TicketNumber] = true
	}
	s.issuances[tickets[0].OrderID] = true
	return nil
}

func (s *MemoryStore) TicketsByOrder(_ context.Context, orderID string) ([]model.LotteryTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTickets(func(t *model.LotteryTicket) bool { return t.OrderID == orderID }), nil
}

func (s *MemoryStore) TicketsByUser(_ context.Context, userID string) ([]model.LotteryTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTickets(func(t *model.LotteryTicket) bool { return t.UserID == userID }), nil
}

func (s *MemoryStore) ActiveTicketsByCategory(_ context.Context, category string) ([]model.LotteryTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTickets(func(t *model.LotteryTicket) bool {
		return t.Category == category && t.Status == model.TicketActive
	}), nil
}

// filterTickets returns matching tickets ordered by ticket number so that
// eligible-set snapshots are deterministic. Caller must hold the lock.
func (s *MemoryStore) filterTickets(match func(*model.LotteryTicket) bool) []model.LotteryTicket {
	var result []model.LotteryTicket
	for _, t := range s.tickets {
		if match(t) {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TicketNumber < result[j].TicketNumber
	})
	return result
}

// --- Draws & winners ---

func (s *MemoryStore) CreateDraw(_ context.Context, d *model.LotteryDraw) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.draws[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDraw(_ context.Context, id string) (*model.LotteryDraw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.draws[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDraws(_ context.Context) ([]model.LotteryDraw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draws := make([]model.LotteryDraw, 0, len(s.draws))
	for _, d := range s.draws {
		draws = append(draws, *d)
	}
	sort.Slice(draws, func(i, j int) bool {
		return draws[i].CreatedAt.After(draws[j].CreatedAt)
	})
	return draws, nil
}

func (s *MemoryStore) UpdateDraw(_ context.Context, d *model.LotteryDraw) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.draws[d.ID]
	if !ok {
		return ErrNotFound
	}
	// Completed and cancelled draws are terminal.
	if existing.Status != model.DrawActive {
		return ErrDrawNotActive
	}
	existing.Category = d.Category
	existing.PrizeAmount = d.PrizeAmount
	existing.DrawDate = d.DrawDate
	existing.Status = d.Status
	return nil
}

func (s *MemoryStore) CompleteDraw(_ context.Context, drawID string, winner *model.LotteryWinner, loserTicketIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.draws[drawID]
	if !ok {
		return ErrNotFound
	}
	if d.Status != model.DrawActive {
		return ErrDrawNotActive
	}

	winning, ok := s.tickets[winner.TicketID]
	if !ok {
		return ErrNotFound
	}

	d.Status = model.DrawCompleted
	winning.Status = model.TicketWinner
	for _, id := range loserTicketIDs {
		if t, ok := s.tickets[id]; ok {
			t.Status = model.TicketDrawn
		}
	}
	cp := *winner
	s.winners[winner.ID] = &cp
	return nil
}

func (s *MemoryStore) WinnerByDraw(_ context.Context, drawID string) (*model.LotteryWinner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.winners {
		if w.DrawID == drawID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListWinners(_ context.Context) ([]model.LotteryWinner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	winners := make([]model.LotteryWinner, 0, len(s.winners))
	for _, w := range s.winners {
		winners = append(winners, *w)
	}
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].CreatedAt.After(winners[j].CreatedAt)
	})
	return winners, nil
}

func (s *MemoryStore) ClaimWinner(_ context.Context, winnerID string) (*model.LotteryWinner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.winners[winnerID]
	if !ok {
		return nil, ErrNotFound
	}
	w.Claimed = true
	cp := *w
	return &cp, nil
}

// --- Loyalty ---

func (s *MemoryStore) AddLoyaltyPoints(_ context.Context, userID string, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loyalty[userID] += points
	return nil
}

func (s *MemoryStore) LoyaltyPoints(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loyalty[userID], nil
}
