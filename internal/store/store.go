// Package store defines the persistence interface for the checkout engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientFunds is returned by DebitWallet when the balance
	// cannot cover the requested amount. No mutation occurs.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrDrawNotActive is returned by CompleteDraw when the draw is not in
	// the active state. Exactly one CompleteDraw call can ever succeed.
	ErrDrawNotActive = errors.New("store: draw is not active")

	// ErrOrderFinal is returned when mutating an order whose fulfillment
	// status is completed. Completed orders are immutable.
	ErrOrderFinal = errors.New("store: order is final")

	// ErrDuplicateTicketNumber is returned by InsertTickets when a ticket
	// number collides with an existing one. The whole batch is rolled back.
	ErrDuplicateTicketNumber = errors.New("store: duplicate ticket number")

	// ErrTicketsAlreadyIssued is returned by InsertTickets when an issuance
	// for the batch's order has already been recorded. Nothing is persisted;
	// the caller should load and return the existing set.
	ErrTicketsAlreadyIssued = errors.New("store: tickets already issued for order")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Multi-row operations
// (DebitWallet, InsertTickets, CompleteDraw) are atomic in every
// implementation — they either fully commit or leave no trace.
type Store interface {
	// --- Orders ---

	// CreateOrder persists a new order with its line items.
	CreateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order (with items) by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByUser returns a user's orders, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// UpdateOrderStatus transitions payment and fulfillment status.
	// Fails with ErrOrderFinal if the order is already completed.
	// paidAt may be nil when the payment status is not paid.
	UpdateOrderStatus(ctx context.Context, id string, ps model.PaymentStatus, fs model.FulfillmentStatus, paidAt *time.Time) error

	// ListStaleAwaitingPayment returns gateway orders still awaiting a
	// webhook that were created before the cutoff.
	ListStaleAwaitingPayment(ctx context.Context, cutoff time.Time) ([]model.Order, error)

	// ListConfirmedOrders returns orders whose payment is confirmed but
	// whose fulfillment has not completed — candidates for issuance retry.
	ListConfirmedOrders(ctx context.Context) ([]model.Order, error)

	// --- Wallet ledger ---

	// GetWallet returns the account, creating a zero-balance view if the
	// user has no ledger history yet.
	GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error)

	// DebitWallet atomically subtracts amount from the balance and appends
	// a ledger entry. Returns ErrInsufficientFunds (no mutation) when the
	// balance cannot cover it. amount must be positive.
	DebitWallet(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error)

	// CreditWallet atomically adds amount to the balance and appends a
	// ledger entry. Creates the account if missing. amount must be positive.
	CreditWallet(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error)

	// LedgerEntriesByUser returns the user's ledger, oldest first.
	LedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// --- Lottery tickets ---

	// NextTicketNumbers reserves n globally unique ticket numbers.
	NextTicketNumbers(ctx context.Context, n int) ([]int64, error)

	// InsertTickets persists a batch of tickets as a unit. The batch must
	// belong to a single order; the first batch for an order wins and any
	// later batch fails with ErrTicketsAlreadyIssued. On any failure
	// nothing is persisted.
	InsertTickets(ctx context.Context, tickets []model.LotteryTicket) error

	// TicketsByOrder returns the tickets issued for an order.
	TicketsByOrder(ctx context.Context, orderID string) ([]model.LotteryTicket, error)

	// TicketsByUser returns all of a user's tickets.
	TicketsByUser(ctx context.Context, userID string) ([]model.LotteryTicket, error)

	// ActiveTicketsByCategory returns the eligible set for a draw:
	// tickets with status=active in the given category.
	ActiveTicketsByCategory(ctx context.Context, category string) ([]model.LotteryTicket, error)

	// --- Draws & winners ---

	// CreateDraw persists a new draw.
	CreateDraw(ctx context.Context, d *model.LotteryDraw) error

	// GetDraw retrieves a draw by ID.
	GetDraw(ctx context.Context, id string) (*model.LotteryDraw, error)

	// ListDraws returns all draws, newest first.
	ListDraws(ctx context.Context) ([]model.LotteryDraw, error)

	// UpdateDraw updates category, prize, date, and status of an active
	// draw. Completed and cancelled draws are terminal.
	UpdateDraw(ctx context.Context, d *model.LotteryDraw) error

	// CompleteDraw atomically records the winner, marks the winning ticket,
	// marks the losing tickets drawn, and transitions the draw to
	// completed. Fails with ErrDrawNotActive (no mutation) unless the draw
	// is active at commit time.
	CompleteDraw(ctx context.Context, drawID string, winner *model.LotteryWinner, loserTicketIDs []string) error

	// WinnerByDraw returns the winner of a draw, if recorded.
	WinnerByDraw(ctx context.Context, drawID string) (*model.LotteryWinner, error)

	// ListWinners returns all recorded winners, newest first.
	ListWinners(ctx context.Context) ([]model.LotteryWinner, error)

	// ClaimWinner marks a winner record claimed. Idempotent.
	ClaimWinner(ctx context.Context, winnerID string) (*model.LotteryWinner, error)

	// --- Loyalty ---

	// AddLoyaltyPoints adds points to a user's loyalty account.
	AddLoyaltyPoints(ctx context.Context, userID string, points int64) error

	// LoyaltyPoints returns the user's accrued points (zero if none).
	LoyaltyPoints(ctx context.Context, userID string) (int64, error)
}
