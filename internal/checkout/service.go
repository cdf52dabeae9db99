// Package checkout orchestrates the order pipeline: validation, payment
// routing, order creation, ticket issuance, and loyalty accrual. Each step
// only proceeds once the prior step committed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/loyalty"
	"github.com/prizeshop/checkout-engine/internal/metrics"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/notify"
	"github.com/prizeshop/checkout-engine/internal/payment"
	"github.com/prizeshop/checkout-engine/internal/store"
	"github.com/prizeshop/checkout-engine/internal/ticket"
	"github.com/prizeshop/checkout-engine/internal/wallet"
)

// ErrNotGatewayOrder is returned when a gateway payment verdict names an
// order that was not routed through the redirect gateway.
var ErrNotGatewayOrder = errors.New("checkout: order was not placed through the payment gateway")

// ErrValidation is returned for malformed or inconsistent checkout input.
// Surfaced before any side effect.
var ErrValidation = errors.New("checkout: invalid request")

// Service drives the order state machine. It is the only writer of orders
// and the only caller of the wallet, issuer, and loyalty services on the
// checkout path.
type Service struct {
	store   store.Store
	wallet  *wallet.Service
	issuer  *ticket.Issuer
	loyalty *loyalty.Service
	gateway payment.GatewayClient
	hub     *notify.Hub // optional, nil disables broadcasts
}

// NewService creates a checkout orchestrator.
func NewService(st store.Store, w *wallet.Service, iss *ticket.Issuer, loy *loyalty.Service, gw payment.GatewayClient, hub *notify.Hub) *Service {
	return &Service{
		store:   st,
		wallet:  w,
		issuer:  iss,
		loyalty: loy,
		gateway: gw,
		hub:     hub,
	}
}

// Request is a fully parsed checkout submission.
type Request struct {
	UserID       string
	Items        []model.LineItem
	Shipping     model.ShippingInfo
	ShippingCost decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	Payment      payment.Selection
}

// Result is the outcome of a submitted checkout. FormURL is set only for
// the asynchronous gateway path.
type Result struct {
	Order   *model.Order `json:"order"`
	FormURL string       `json:"form_url,omitempty"`
}

func validate(req *Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrValidation)
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %s has non-positive quantity", ErrValidation, it.ProductID)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %s has negative unit price", ErrValidation, it.ProductID)
		}
	}
	if req.Shipping.Name == "" || req.Shipping.Phone == "" || req.Shipping.Address == "" || req.Shipping.City == "" {
		return fmt.Errorf("%w: shipping name, phone, address, and city are required", ErrValidation)
	}
	if req.ShippingCost.IsNegative() || req.Tax.IsNegative() {
		return fmt.Errorf("%w: shipping_cost and tax must be non-negative", ErrValidation)
	}
	if req.Payment == nil {
		return fmt.Errorf("%w: payment selection is required", ErrValidation)
	}

	order := model.Order{Items: req.Items}
	expected := order.ItemsTotal().Add(req.ShippingCost).Add(req.Tax)
	if !req.Total.Equal(expected) {
		return fmt.Errorf("%w: total %s does not match items + shipping + tax = %s",
			ErrValidation, req.Total, expected)
	}
	return nil
}

// Submit runs one checkout attempt end to end. Failures before payment
// confirmation leave no persisted side effects, except that synchronous
// and asynchronous card paths keep their failed Order row for audit.
func (s *Service) Submit(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	method := string(req.Payment.Method())
	defer func() {
		metrics.CheckoutLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if err := validate(req); err != nil {
		metrics.OrdersTotal.WithLabelValues(method, "rejected").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	order := &model.Order{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Items:             req.Items,
		Shipping:          req.Shipping,
		ShippingCost:      req.ShippingCost,
		Tax:               req.Tax,
		Total:             req.Total,
		PaymentMethod:     req.Payment.Method(),
		PaymentStatus:     model.PaymentPending,
		FulfillmentStatus: model.FulfillmentPendingPayment,
		CreatedAt:         now,
	}

	switch sel := req.Payment.(type) {
	case payment.Wallet:
		return s.submitWallet(ctx, order, now)

	case payment.CashOnDelivery:
		// Entitlement is not payment-timing-dependent here: tickets are
		// issued immediately, payment is collected at delivery.
		order.FulfillmentStatus = model.FulfillmentConfirmed
		if err := s.store.CreateOrder(ctx, order); err != nil {
			metrics.OrdersTotal.WithLabelValues(method, "error").Inc()
			return nil, fmt.Errorf("create order: %w", err)
		}
		if err := s.finalize(ctx, order); err != nil {
			return &Result{Order: order}, err
		}
		return &Result{Order: order}, nil

	case payment.Card:
		return s.submitCharge(ctx, order, sel.Token, now)
	case payment.SavedMethod:
		return s.submitCharge(ctx, order, sel.MethodID, now)
	case payment.PayPal:
		return s.submitCharge(ctx, order, sel.Token, now)

	case payment.Gateway:
		return s.submitGatewayRedirect(ctx, order, sel)

	default:
		metrics.OrdersTotal.WithLabelValues(method, "rejected").Inc()
		return nil, fmt.Errorf("%w: unsupported payment selection %T", ErrValidation, req.Payment)
	}
}

// submitWallet deducts first, creates the order only after the deduction
// committed. Insufficient funds creates nothing.
func (s *Service) submitWallet(ctx context.Context, order *model.Order, now time.Time) (*Result, error) {
	_, err := s.wallet.Deduct(ctx, order.UserID, order.Total, "order payment", order.ID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			metrics.OrdersTotal.WithLabelValues(string(order.PaymentMethod), "insufficient_funds").Inc()
			return nil, err
		}
		metrics.OrdersTotal.WithLabelValues(string(order.PaymentMethod), "error").Inc()
		return nil, fmt.Errorf("wallet deduction: %w", err)
	}

	order.PaymentStatus = model.PaymentPaid
	order.FulfillmentStatus = model.FulfillmentConfirmed
	order.PaidAt = &now

	if err := s.store.CreateOrder(ctx, order); err != nil {
		// The deduction committed but the order did not: compensate so the
		// ledger never shows a charge without an order.
		if _, rerr := s.wallet.Refund(ctx, order.UserID, order.Total, order.ID); rerr != nil {
			slog.Error("refund after failed order create also failed",
				"order", order.ID, "err", rerr)
		}
		metrics.OrdersTotal.WithLabelValues(string(order.PaymentMethod), "error").Inc()
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.finalize(ctx, order); err != nil {
		return &Result{Order: order}, err
	}
	return &Result{Order: order}, nil
}

// submitCharge handles the synchronous card-like paths: the order exists
// in awaiting-payment before the charge, and is marked failed — never
// deleted — when the adapter rejects.
func (s *Service) submitCharge(ctx context.Context, order *model.Order, token string, now time.Time) (*Result, error) {
	method := string(order.PaymentMethod)
	if err := s.store.CreateOrder(ctx, order); err != nil {
		metrics.OrdersTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("create order: %w", err)
	}

	_, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		OrderID: order.ID,
		Amount:  order.Total,
		Token:   token,
	})
	if err != nil {
		if uerr := s.store.UpdateOrderStatus(ctx, order.ID, model.PaymentFailed, model.FulfillmentCancelled, nil); uerr != nil {
			slog.Error("failed to mark order payment_failed", "order", order.ID, "err", uerr)
		}
		metrics.OrdersTotal.WithLabelValues(method, "payment_failed").Inc()
		slog.Warn("charge rejected", "order", order.ID, "method", method, "err", err)
		return nil, fmt.Errorf("charge order %s: %w", order.ID, err)
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, model.PaymentPaid, model.FulfillmentConfirmed, &now); err != nil {
		return nil, fmt.Errorf("confirm order %s: %w", order.ID, err)
	}
	order.PaymentStatus = model.PaymentPaid
	order.FulfillmentStatus = model.FulfillmentConfirmed
	order.PaidAt = &now

	if err := s.finalize(ctx, order); err != nil {
		return &Result{Order: order}, err
	}
	return &Result{Order: order}, nil
}

// submitGatewayRedirect creates the order before the user leaves the site,
// because confirmation arrives later via webhook. Issuance and fulfillment
// are deferred until the webhook confirms payment.
func (s *Service) submitGatewayRedirect(ctx context.Context, order *model.Order, sel payment.Gateway) (*Result, error) {
	method := string(order.PaymentMethod)
	if err := s.store.CreateOrder(ctx, order); err != nil {
		metrics.OrdersTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("create order: %w", err)
	}

	init, err := s.gateway.Initialize(ctx, payment.InitRequest{
		OrderID:      order.ID,
		Amount:       order.Total,
		CustomerName: order.Shipping.Name,
		Phone:        order.Shipping.Phone,
		ReturnURL:    sel.ReturnURL,
	})
	if err != nil {
		if uerr := s.store.UpdateOrderStatus(ctx, order.ID, model.PaymentFailed, model.FulfillmentCancelled, nil); uerr != nil {
			slog.Error("failed to mark order payment_failed", "order", order.ID, "err", uerr)
		}
		metrics.OrdersTotal.WithLabelValues(method, "payment_failed").Inc()
		return nil, fmt.Errorf("initialize gateway payment for order %s: %w", order.ID, err)
	}

	metrics.OrdersTotal.WithLabelValues(method, "awaiting_webhook").Inc()
	slog.Info("order awaiting gateway webhook", "order", order.ID, "form_url", init.FormURL)
	return &Result{Order: order, FormURL: init.FormURL}, nil
}

// HandleGatewayResult consumes the gateway's payment verdict for an order,
// from the webhook or from the reconciliation sweep. Replays on an already
// resolved order return it unchanged.
func (s *Service) HandleGatewayResult(ctx context.Context, orderID string, paid bool) (*model.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Only redirect-gateway orders have a verdict to consume. Synchronous
	// methods pass through pending_payment inside Submit and must not be
	// resolvable by a callback naming their id.
	if order.PaymentMethod != model.PaymentQiCardGateway {
		return nil, ErrNotGatewayOrder
	}
	if order.FulfillmentStatus != model.FulfillmentPendingPayment {
		return order, nil
	}

	if !paid {
		if err := s.store.UpdateOrderStatus(ctx, orderID, model.PaymentFailed, model.FulfillmentCancelled, nil); err != nil {
			return nil, err
		}
		order.PaymentStatus = model.PaymentFailed
		order.FulfillmentStatus = model.FulfillmentCancelled
		metrics.OrdersTotal.WithLabelValues(string(order.PaymentMethod), "payment_failed").Inc()
		return order, nil
	}

	now := time.Now().UTC()
	if err := s.store.UpdateOrderStatus(ctx, orderID, model.PaymentPaid, model.FulfillmentConfirmed, &now); err != nil {
		return nil, err
	}
	order.PaymentStatus = model.PaymentPaid
	order.FulfillmentStatus = model.FulfillmentConfirmed
	order.PaidAt = &now

	if err := s.finalize(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// finalize runs the post-confirmation steps: ticket issuance (idempotent
// on order id), loyalty accrual, completion, broadcast. Called at most
// once per order on the happy path; the sweep retries it when a step
// failed mid-way.
func (s *Service) finalize(ctx context.Context, order *model.Order) error {
	ents := model.EntitlementsFromItems(order.Items)
	ticketCount := 0
	if len(ents) > 0 {
		tickets, err := s.issuer.Issue(ctx, order.ID, order.UserID, ents)
		if err != nil {
			slog.Error("ticket issuance failed, order left confirmed for retry",
				"order", order.ID, "err", err)
			return fmt.Errorf("issue tickets for order %s: %w", order.ID, err)
		}
		ticketCount = len(tickets)
	}

	points, err := s.loyalty.Award(ctx, order.UserID, order.Total)
	if err != nil {
		return fmt.Errorf("award loyalty for order %s: %w", order.ID, err)
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, order.PaymentStatus, model.FulfillmentCompleted, nil); err != nil {
		return fmt.Errorf("complete order %s: %w", order.ID, err)
	}
	order.FulfillmentStatus = model.FulfillmentCompleted

	metrics.OrdersTotal.WithLabelValues(string(order.PaymentMethod), "completed").Inc()
	slog.Info("order completed",
		"order", order.ID,
		"user", order.UserID,
		"method", order.PaymentMethod,
		"total", order.Total.String(),
		"tickets", ticketCount,
		"loyalty_points", points,
	)

	if s.hub != nil {
		s.hub.Broadcast(notify.Event{
			Type:        "order_completed",
			OrderID:     order.ID,
			UserID:      order.UserID,
			TicketCount: ticketCount,
		})
	}
	return nil
}
