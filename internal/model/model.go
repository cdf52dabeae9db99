// Package model defines the core domain types shared across the checkout
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the payment path an order was routed through.
type PaymentMethod string

const (
	PaymentWallet         PaymentMethod = "wallet"
	PaymentCreditCard     PaymentMethod = "credit_card"
	PaymentSavedMethod    PaymentMethod = "saved_method"
	PaymentPayPal         PaymentMethod = "paypal"
	PaymentQiCardGateway  PaymentMethod = "qicard_gateway"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// PaymentStatus tracks whether money has actually been collected.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// FulfillmentStatus tracks the order through its lifecycle.
type FulfillmentStatus string

const (
	FulfillmentPendingPayment FulfillmentStatus = "pending_payment"
	FulfillmentConfirmed      FulfillmentStatus = "confirmed"
	FulfillmentFulfilling     FulfillmentStatus = "fulfilling"
	FulfillmentCompleted      FulfillmentStatus = "completed"
	FulfillmentCancelled      FulfillmentStatus = "cancelled"
	FulfillmentAbandoned      FulfillmentStatus = "abandoned"
)

// LineItem is one product entry in an order. LotteryTickets is the number
// of draw entries granted per unit purchased.
type LineItem struct {
	ProductID      string          `json:"product_id" db:"product_id"`
	ProductName    string          `json:"product_name" db:"product_name"`
	Category       string          `json:"category" db:"category"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"`
	Quantity       int             `json:"quantity" db:"quantity"`
	LotteryTickets int             `json:"lottery_tickets" db:"lottery_tickets"`
}

// ShippingInfo is the delivery destination captured at checkout.
type ShippingInfo struct {
	Name    string `json:"name" db:"ship_name"`
	Phone   string `json:"phone" db:"ship_phone"`
	Address string `json:"address" db:"ship_address"`
	City    string `json:"city" db:"ship_city"`
}

// Order is the persisted record of one checkout attempt.
// Invariant: Total == Σ(items) + ShippingCost + Tax.
// Immutable once FulfillmentStatus is completed.
type Order struct {
	ID                string            `json:"id" db:"id"`
	UserID            string            `json:"user_id" db:"user_id"`
	Items             []LineItem        `json:"items"`
	Shipping          ShippingInfo      `json:"shipping"`
	ShippingCost      decimal.Decimal   `json:"shipping_cost" db:"shipping_cost"`
	Tax               decimal.Decimal   `json:"tax" db:"tax"`
	Total             decimal.Decimal   `json:"total" db:"total"`
	PaymentMethod     PaymentMethod     `json:"payment_method" db:"payment_method"`
	PaymentStatus     PaymentStatus     `json:"payment_status" db:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status" db:"fulfillment_status"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	PaidAt            *time.Time        `json:"paid_at,omitempty" db:"paid_at"`
}

// ItemsTotal sums unit_price × quantity over all line items.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// WalletAccount holds a user's store-credit balance. Balance is never
// negative; every mutation appends one LedgerEntry.
type WalletAccount struct {
	UserID  string          `json:"user_id" db:"user_id"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// LedgerEntry is an immutable record of one wallet balance mutation.
// Once written, these are never modified or deleted; the balance is always
// reconstructable by summing deltas.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Delta     decimal.Decimal `json:"delta" db:"delta"` // signed: +top-up, -deduction
	Reason    string          `json:"reason" db:"reason"`
	OrderID   string          `json:"order_id,omitempty" db:"order_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TicketEntitlement is the transient count of lottery tickets owed for one
// line item: lottery_tickets × quantity. Derived per order, never persisted.
type TicketEntitlement struct {
	Category    string `json:"category"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// EntitlementsFromItems derives the ticket entitlements for an order's line
// items. Items granting zero tickets are skipped.
func EntitlementsFromItems(items []LineItem) []TicketEntitlement {
	var ents []TicketEntitlement
	for _, it := range items {
		n := it.LotteryTickets * it.Quantity
		if n <= 0 {
			continue
		}
		ents = append(ents, TicketEntitlement{
			Category:    it.Category,
			ProductName: it.ProductName,
			Quantity:    n,
		})
	}
	return ents
}

// TicketStatus is the draw lifecycle state of a ticket.
type TicketStatus string

const (
	TicketActive TicketStatus = "active"
	TicketDrawn  TicketStatus = "drawn"
	TicketWinner TicketStatus = "winner"
)

// LotteryTicket is a numbered draw entry. TicketNumber is globally unique
// and immutable. Tickets are never deleted; status only changes during
// draw conduction.
type LotteryTicket struct {
	ID           string       `json:"id" db:"id"`
	TicketNumber int64        `json:"ticket_number" db:"ticket_number"`
	OrderID      string       `json:"order_id" db:"order_id"`
	UserID       string       `json:"user_id" db:"user_id"`
	Category     string       `json:"category" db:"category"`
	ProductName  string       `json:"product_name" db:"product_name"`
	Status       TicketStatus `json:"status" db:"status"`
	IssuedAt     time.Time    `json:"issued_at" db:"issued_at"`
}

// DrawStatus is the lifecycle state of a draw.
type DrawStatus string

const (
	DrawActive    DrawStatus = "active"
	DrawCompleted DrawStatus = "completed"
	DrawCancelled DrawStatus = "cancelled"
)

// LotteryDraw selects one winning ticket in its category for a fixed prize.
// Transitions active→completed exactly once (terminal), or active→cancelled.
type LotteryDraw struct {
	ID          string          `json:"id" db:"id"`
	Category    string          `json:"category" db:"category"`
	PrizeAmount decimal.Decimal `json:"prize_amount" db:"prize_amount"`
	DrawDate    time.Time       `json:"draw_date" db:"draw_date"`
	Status      DrawStatus      `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// LotteryWinner records the single winner of a completed draw.
// Created exactly once per draw; references are immutable after creation.
type LotteryWinner struct {
	ID           string          `json:"id" db:"id"`
	DrawID       string          `json:"draw_id" db:"draw_id"`
	TicketID     string          `json:"ticket_id" db:"ticket_id"`
	TicketNumber int64           `json:"ticket_number" db:"ticket_number"`
	UserID       string          `json:"user_id" db:"user_id"`
	PrizeAmount  decimal.Decimal `json:"prize_amount" db:"prize_amount"`
	Claimed      bool            `json:"claimed" db:"claimed"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// LoyaltyAccount tracks points accrued from completed orders.
type LoyaltyAccount struct {
	UserID string `json:"user_id" db:"user_id"`
	Points int64  `json:"points" db:"points"`
}
