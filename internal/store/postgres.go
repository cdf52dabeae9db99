package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Multi-row operations run in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, ship_name, ship_phone, ship_address, ship_city,
		                     shipping_cost, tax, total, payment_method, payment_status,
		                     fulfillment_status, created_at, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13, $14)`,
		o.ID, o.UserID, o.Shipping.Name, o.Shipping.Phone, o.Shipping.Address, o.Shipping.City,
		o.ShippingCost.String(), o.Tax.String(), o.Total.String(),
		o.PaymentMethod, o.PaymentStatus, o.FulfillmentStatus, o.CreatedAt, o.PaidAt,
	)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, category, unit_price, quantity, lottery_tickets)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
			o.ID, it.ProductID, it.ProductName, it.Category, it.UnitPrice.String(), it.Quantity, it.LotteryTickets,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const orderColumns = `id, user_id, ship_name, ship_phone, ship_address, ship_city,
       shipping_cost::TEXT, tax::TEXT, total::TEXT,
       payment_method, payment_status, fulfillment_status, created_at, paid_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var shippingCost, tax, total string

	err := row.Scan(&o.ID, &o.UserID, &o.Shipping.Name, &o.Shipping.Phone,
		&o.Shipping.Address, &o.Shipping.City,
		&shippingCost, &tax, &total,
		&o.PaymentMethod, &o.PaymentStatus, &o.FulfillmentStatus,
		&o.CreatedAt, &o.PaidAt)
	if err != nil {
		return nil, err
	}

	o.ShippingCost, _ = decimal.NewFromString(shippingCost)
	o.Tax, _ = decimal.NewFromString(tax)
	o.Total, _ = decimal.NewFromString(total)
	return &o, nil
}

func (s *PostgresStore) loadItems(ctx context.Context, orderID string) ([]model.LineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, product_name, category, unit_price::TEXT, quantity, lottery_tickets
		 FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var it model.LineItem
		var unitPrice string
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Category,
			&unitPrice, &it.Quantity, &it.LotteryTickets); err != nil {
			return nil, err
		}
		it.UnitPrice, _ = decimal.NewFromString(unitPrice)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	o.Items, err = s.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Items, err = s.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, ps model.PaymentStatus, fs model.FulfillmentStatus, paidAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET payment_status = $2, fulfillment_status = $3, paid_at = COALESCE($4, paid_at)
		 WHERE id = $1 AND fulfillment_status <> 'completed'`,
		id, ps, fs, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrOrderFinal
		}
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStaleAwaitingPayment(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE payment_method = 'qicard_gateway'
		   AND payment_status = 'pending'
		   AND fulfillment_status = 'pending_payment'
		   AND created_at < $1
		 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Items, err = s.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PostgresStore) ListConfirmedOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE fulfillment_status = 'confirmed'
		 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Items, err = s.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// --- Wallet ledger ---

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallet_accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.WalletAccount{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}

	acct := &model.WalletAccount{UserID: userID}
	acct.Balance, _ = decimal.NewFromString(balance)
	return acct, nil
}

func (s *PostgresStore) DebitWallet(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Compare-and-subtract in a single statement: the balance predicate
	// serializes concurrent deductions per user and can never overdraw.
	tag, err := tx.Exec(ctx,
		`UPDATE wallet_accounts
		 SET balance = balance - $2::NUMERIC
		 WHERE user_id = $1 AND balance >= $2::NUMERIC`,
		userID, amount.String())
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInsufficientFunds
	}

	entry, err := insertLedgerEntry(ctx, tx, userID, amount.Neg(), reason, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStore) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_accounts (user_id, balance)
		 VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET balance = wallet_accounts.balance + EXCLUDED.balance`,
		userID, amount.String())
	if err != nil {
		return nil, err
	}

	entry, err := insertLedgerEntry(ctx, tx, userID, amount, reason, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, userID string, delta decimal.Decimal, reason, orderID string) (*model.LedgerEntry, error) {
	entry := &model.LedgerEntry{
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (user_id, delta, reason, order_id, timestamp)
		 VALUES ($1, $2::NUMERIC, $3, NULLIF($4, ''), $5)
		 RETURNING id::TEXT`,
		userID, delta.String(), reason, orderID, entry.Timestamp).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStore) LedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, delta::TEXT, reason, COALESCE(order_id, ''), timestamp
		 FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var delta string
		if err := rows.Scan(&e.ID, &e.UserID, &delta, &e.Reason, &e.OrderID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Delta, _ = decimal.NewFromString(delta)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Lottery tickets ---

func (s *PostgresStore) NextTicketNumbers(ctx context.Context, n int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT nextval('ticket_numbers') FROM generate_series(1, $1)`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nums := make([]int64, 0, n)
	for rows.Next() {
		var num int64
		if err := rows.Scan(&num); err != nil {
			return nil, err
		}
		nums = append(nums, num)
	}
	return nums, rows.Err()
}

func (s *PostgresStore) InsertTickets(ctx context.Context, tickets []model.LotteryTicket) error {
	if len(tickets) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// One issuance row per order; its primary key makes the batch
	// first-writer-wins under concurrent issuance.
	_, err = tx.Exec(ctx,
		`INSERT INTO ticket_issuances (order_id) VALUES ($1)`, tickets[0].OrderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTicketsAlreadyIssued
		}
		return err
	}

	for _, t := range tickets {
		_, err = tx.Exec(ctx,
			`INSERT INTO lottery_tickets (id, ticket_number, order_id, user_id, category, product_name, status, issued_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.TicketNumber, t.OrderID, t.UserID, t.Category, t.ProductName, t.Status, t.IssuedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateTicketNumber
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

const ticketColumns = `id, ticket_number, order_id, user_id, category, product_name, status, issued_at`

func (s *PostgresStore) queryTickets(ctx context.Context, query string, args ...any) ([]model.LotteryTicket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.LotteryTicket
	for rows.Next() {
		var t model.LotteryTicket
		if err := rows.Scan(&t.ID, &t.TicketNumber, &t.OrderID, &t.UserID,
			&t.Category, &t.ProductName, &t.Status, &t.IssuedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) TicketsByOrder(ctx context.Context, orderID string) ([]model.LotteryTicket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketColumns+` FROM lottery_tickets WHERE order_id = $1 ORDER BY ticket_number`, orderID)
}

func (s *PostgresStore) TicketsByUser(ctx context.Context, userID string) ([]model.LotteryTicket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketColumns+` FROM lottery_tickets WHERE user_id = $1 ORDER BY ticket_number`, userID)
}

func (s *PostgresStore) ActiveTicketsByCategory(ctx context.Context, category string) ([]model.LotteryTicket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketColumns+` FROM lottery_tickets
		 WHERE category = $1 AND status = 'active' ORDER BY ticket_number`, category)
}

// --- Draws & winners ---

func (s *PostgresStore) CreateDraw(ctx context.Context, d *model.LotteryDraw) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lottery_draws (id, category, prize_amount, draw_date, status, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		d.ID, d.Category, d.PrizeAmount.String(), d.DrawDate, d.Status, d.CreatedAt,
	)
	return err
}

func scanDraw(row pgx.Row) (*model.LotteryDraw, error) {
	var d model.LotteryDraw
	var prize string
	err := row.Scan(&d.ID, &d.Category, &prize, &d.DrawDate, &d.Status, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.PrizeAmount, _ = decimal.NewFromString(prize)
	return &d, nil
}

func (s *PostgresStore) GetDraw(ctx context.Context, id string) (*model.LotteryDraw, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, category, prize_amount::TEXT, draw_date, status, created_at
		 FROM lottery_draws WHERE id = $1`, id)
	d, err := scanDraw(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) ListDraws(ctx context.Context) ([]model.LotteryDraw, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, category, prize_amount::TEXT, draw_date, status, created_at
		 FROM lottery_draws ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var draws []model.LotteryDraw
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		draws = append(draws, *d)
	}
	return draws, rows.Err()
}

func (s *PostgresStore) UpdateDraw(ctx context.Context, d *model.LotteryDraw) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lottery_draws
		 SET category = $2, prize_amount = $3::NUMERIC, draw_date = $4, status = $5
		 WHERE id = $1 AND status = 'active'`,
		d.ID, d.Category, d.PrizeAmount.String(), d.DrawDate, d.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM lottery_draws WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrDrawNotActive
		}
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteDraw(ctx context.Context, drawID string, winner *model.LotteryWinner, loserTicketIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Guarded transition: only one CompleteDraw can ever flip the row.
	tag, err := tx.Exec(ctx,
		`UPDATE lottery_draws SET status = 'completed' WHERE id = $1 AND status = 'active'`, drawID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDrawNotActive
	}

	_, err = tx.Exec(ctx,
		`UPDATE lottery_tickets SET status = 'winner' WHERE id = $1`, winner.TicketID)
	if err != nil {
		return err
	}
	if len(loserTicketIDs) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE lottery_tickets SET status = 'drawn' WHERE id = ANY($1)`, loserTicketIDs)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lottery_winners (id, draw_id, ticket_id, ticket_number, user_id, prize_amount, claimed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		winner.ID, winner.DrawID, winner.TicketID, winner.TicketNumber,
		winner.UserID, winner.PrizeAmount.String(), winner.Claimed, winner.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const winnerColumns = `id, draw_id, ticket_id, ticket_number, user_id, prize_amount::TEXT, claimed, created_at`

func scanWinner(row pgx.Row) (*model.LotteryWinner, error) {
	var w model.LotteryWinner
	var prize string
	err := row.Scan(&w.ID, &w.DrawID, &w.TicketID, &w.TicketNumber,
		&w.UserID, &prize, &w.Claimed, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.PrizeAmount, _ = decimal.NewFromString(prize)
	return &w, nil
}

func (s *PostgresStore) WinnerByDraw(ctx context.Context, drawID string) (*model.LotteryWinner, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+winnerColumns+` FROM lottery_winners WHERE draw_id = $1`, drawID)
	w, err := scanWinner(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *PostgresStore) ListWinners(ctx context.Context) ([]model.LotteryWinner, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+winnerColumns+` FROM lottery_winners ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var winners []model.LotteryWinner
	for rows.Next() {
		w, err := scanWinner(rows)
		if err != nil {
			return nil, err
		}
		winners = append(winners, *w)
	}
	return winners, rows.Err()
}

func (s *PostgresStore) ClaimWinner(ctx context.Context, winnerID string) (*model.LotteryWinner, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE lottery_winners SET claimed = TRUE WHERE id = $1
		 RETURNING `+winnerColumns, winnerID)
	w, err := scanWinner(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// --- Loyalty ---

func (s *PostgresStore) AddLoyaltyPoints(ctx context.Context, userID string, points int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id, points)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET points = loyalty_accounts.points + EXCLUDED.points`,
		userID, points)
	return err
}

func (s *PostgresStore) LoyaltyPoints(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := s.pool.QueryRow(ctx,
		`SELECT points FROM loyalty_accounts WHERE user_id = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return points, err
}
