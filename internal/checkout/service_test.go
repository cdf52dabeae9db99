package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/checkout"
	"github.com/prizeshop/checkout-engine/internal/loyalty"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/payment"
	"github.com/prizeshop/checkout-engine/internal/store"
	"github.com/prizeshop/checkout-engine/internal/ticket"
	"github.com/prizeshop/checkout-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeGateway scripts the external gateway's behavior per test.
type fakeGateway struct {
	chargeFails bool
	initFails   bool
	status      payment.GatewayStatus
	statusErr   error
	charges     int
}

func (g *fakeGateway) Initialize(_ context.Context, req payment.InitRequest) (*payment.InitResponse, error) {
	if g.initFails {
		return nil, payment.ErrGateway
	}
	return &payment.InitResponse{FormURL: "https://gateway.example.com/pay/" + req.OrderID}, nil
}

func (g *fakeGateway) Charge(_ context.Context, _ payment.ChargeRequest) (*payment.ChargeResponse, error) {
	g.charges++
	if g.chargeFails {
		return nil, payment.ErrGateway
	}
	return &payment.ChargeResponse{ConfirmationToken: "conf-123"}, nil
}

func (g *fakeGateway) Status(_ context.Context, _ string) (payment.GatewayStatus, error) {
	if g.statusErr != nil {
		return payment.StatusUnknown, g.statusErr
	}
	return g.status, nil
}

// newTestEnv wires the full checkout pipeline over the in-memory store.
func newTestEnv(t *testing.T) (*checkout.Service, *store.MemoryStore, *fakeGateway, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := &fakeGateway{status: payment.StatusPending}

	walletSvc := wallet.NewService(ms)
	issuer := ticket.NewIssuer(ms)
	loyaltySvc := loyalty.NewService(ms, 10)
	svc := checkout.NewService(ms, walletSvc, issuer, loyaltySvc, gw, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", svc.HandleSubmit)
	r.Get("/api/v1/orders/{orderID}", svc.HandleGetOrder)
	r.Get("/api/v1/users/{userID}/orders", svc.HandleListOrders)
	r.Post("/api/v1/payment-gateway/initialize", svc.HandleGatewayInitialize)
	r.Post("/api/v1/payment-gateway/callback", svc.HandleGatewayCallback)

	return svc, ms, gw, r
}

// goldOrder is the standard fixture: 2 gold rings at 15 each granting
// 3 tickets per unit, plus a mug granting none; shipping 5, tax 5 →
// total 45, 6 tickets, all gold.
func goldOrder(userID string) checkout.SubmitRequest {
	return checkout.SubmitRequest{
		UserID: userID,
		Items: []model.LineItem{
			{
				ProductID:      "prod-1",
				ProductName:    "gold ring",
				Category:       "gold",
				UnitPrice:      d(15),
				Quantity:       2,
				LotteryTickets: 3,
			},
			{
				ProductID:   "prod-2",
				ProductName: "plain mug",
				Category:    "homeware",
				UnitPrice:   d(5),
				Quantity:    1,
			},
		},
		ShippingAddress: model.ShippingInfo{
			Name:    "Ali Hassan",
			Phone:   "07700000000",
			Address: "12 Al-Mansour St",
			City:    "Baghdad",
		},
		ShippingCost: d(5),
		Tax:          d(5),
		Total:        d(45),
	}
}

func submit(t *testing.T, router chi.Router, req checkout.SubmitRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

// --- Wallet path ---

func TestSubmit_Wallet_HappyPath(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	ms.CreditWallet(ctx, "user1", d(100), "top-up", "")

	req := goldOrder("user1")
	req.PaymentMethod = "wallet"
	w := submit(t, router, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.PaymentStatus != model.PaymentPaid {
		t.Errorf("expected payment paid, got %s", resp.PaymentStatus)
	}
	if resp.FulfillmentStatus != model.FulfillmentCompleted {
		t.Errorf("expected fulfillment completed, got %s", resp.FulfillmentStatus)
	}

	acct, _ := ms.GetWallet(ctx, "user1")
	if !acct.Balance.Equal(d(55)) {
		t.Errorf("expected balance=55 after 45 deduction, got %s", acct.Balance)
	}

	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 6 {
		t.Errorf("expected 6 gold tickets, got %d", len(tickets))
	}
	for _, tk := range tickets {
		if tk.Category != "gold" {
			t.Errorf("expected gold category, got %s", tk.Category)
		}
	}

	// Total 45 at rate 10 → 4 loyalty points.
	points, _ := ms.LoyaltyPoints(ctx, "user1")
	if points != 4 {
		t.Errorf("expected 4 loyalty points, got %d", points)
	}
}

func TestSubmit_Wallet_InsufficientFunds(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	ms.CreditWallet(ctx, "user1", d(25), "top-up", "")

	req := goldOrder("user1")
	req.PaymentMethod = "wallet"
	w := submit(t, router, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	// No order, no deduction, no tickets.
	orders, _ := ms.ListOrdersByUser(ctx, "user1")
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
	acct, _ := ms.GetWallet(ctx, "user1")
	if !acct.Balance.Equal(d(25)) {
		t.Errorf("balance changed on rejected checkout: %s", acct.Balance)
	}
	tickets, _ := ms.TicketsByUser(ctx, "user1")
	if len(tickets) != 0 {
		t.Errorf("expected no tickets, got %d", len(tickets))
	}
}

// --- Cash on delivery ---

func TestSubmit_CashOnDelivery_ImmediateIssuance(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	req := goldOrder("user1")
	req.PaymentMethod = "cash_on_delivery"
	w := submit(t, router, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// Payment is collected at delivery, so it stays pending while the
	// order itself completes and tickets land immediately.
	if resp.PaymentStatus != model.PaymentPending {
		t.Errorf("expected payment pending, got %s", resp.PaymentStatus)
	}
	if resp.FulfillmentStatus != model.FulfillmentCompleted {
		t.Errorf("expected fulfillment completed, got %s", resp.FulfillmentStatus)
	}
	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 6 {
		t.Errorf("expected 6 tickets, got %d", len(tickets))
	}
}

// --- Synchronous card paths ---

func TestSubmit_Card_Success(t *testing.T) {
	_, ms, gw, router := newTestEnv(t)
	ctx := context.Background()

	req := goldOrder("user1")
	req.PaymentMethod = "credit_card"
	req.CardToken = "tok-abc"
	w := submit(t, router, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gw.charges != 1 {
		t.Errorf("expected 1 charge, got %d", gw.charges)
	}

	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.PaymentStatus != model.PaymentPaid {
		t.Errorf("expected paid, got %s", resp.PaymentStatus)
	}

	order, _ := ms.GetOrder(ctx, resp.OrderID)
	if order.PaidAt == nil {
		t.Error("expected paid_at to be set")
	}
	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 6 {
		t.Errorf("expected 6 tickets, got %d", len(tickets))
	}
}

func TestSubmit_Card_ChargeRejected(t *testing.T) {
	_, ms, gw, router := newTestEnv(t)
	ctx := context.Background()
	gw.chargeFails = true

	req := goldOrder("user1")
	req.PaymentMethod = "credit_card"
	req.CardToken = "tok-abc"
	w := submit(t, router, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	// The failed order is kept for audit, marked failed, with no tickets.
	orders, _ := ms.ListOrdersByUser(ctx, "user1")
	if len(orders) != 1 {
		t.Fatalf("expected 1 audit order, got %d", len(orders))
	}
	o := orders[0]
	if o.PaymentStatus != model.PaymentFailed {
		t.Errorf("expected payment failed, got %s", o.PaymentStatus)
	}
	if o.FulfillmentStatus != model.FulfillmentCancelled {
		t.Errorf("expected fulfillment cancelled, got %s", o.FulfillmentStatus)
	}
	tickets, _ := ms.TicketsByUser(ctx, "user1")
	if len(tickets) != 0 {
		t.Errorf("expected no tickets for failed payment, got %d", len(tickets))
	}
}

func TestSubmit_Card_MissingToken(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	req := goldOrder("user1")
	req.PaymentMethod = "credit_card"
	w := submit(t, router, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing card token, got %d", w.Code)
	}
}

// --- Asynchronous gateway path ---

func TestSubmit_Gateway_DeferredIssuance(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	req := goldOrder("user1")
	req.PaymentMethod = "qicard_gateway"
	w := submit(t, router, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.FormURL == "" {
		t.Error("expected a form_url to redirect to")
	}
	if resp.FulfillmentStatus != model.FulfillmentPendingPayment {
		t.Errorf("expected pending_payment, got %s", resp.FulfillmentStatus)
	}

	// No tickets before the webhook.
	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 0 {
		t.Fatalf("tickets issued before payment confirmation: %d", len(tickets))
	}

	// Gateway posts the paid webhook.
	cb, _ := json.Marshal(checkout.CallbackRequest{OrderID: resp.OrderID, Status: "paid"})
	cbReq := httptest.NewRequest("POST", "/api/v1/payment-gateway/callback", bytes.NewReader(cb))
	cbReq.Header.Set("Content-Type", "application/json")
	cw := httptest.NewRecorder()
	router.ServeHTTP(cw, cbReq)

	if cw.Code != http.StatusOK {
		t.Fatalf("callback failed: %d %s", cw.Code, cw.Body.String())
	}

	order, _ := ms.GetOrder(ctx, resp.OrderID)
	if order.FulfillmentStatus != model.FulfillmentCompleted {
		t.Errorf("expected completed after webhook, got %s", order.FulfillmentStatus)
	}
	tickets, _ = ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 6 {
		t.Errorf("expected 6 tickets after webhook, got %d", len(tickets))
	}
}

func TestSubmit_Gateway_FailedWebhook(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	req := goldOrder("user1")
	req.PaymentMethod = "qicard_gateway"
	w := submit(t, router, req)
	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	cb, _ := json.Marshal(checkout.CallbackRequest{OrderID: resp.OrderID, Status: "failed"})
	cbReq := httptest.NewRequest("POST", "/api/v1/payment-gateway/callback", bytes.NewReader(cb))
	cbReq.Header.Set("Content-Type", "application/json")
	cw := httptest.NewRecorder()
	router.ServeHTTP(cw, cbReq)

	if cw.Code != http.StatusOK {
		t.Fatalf("callback failed: %d %s", cw.Code, cw.Body.String())
	}

	order, _ := ms.GetOrder(ctx, resp.OrderID)
	if order.PaymentStatus != model.PaymentFailed {
		t.Errorf("expected payment failed, got %s", order.PaymentStatus)
	}
	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 0 {
		t.Errorf("expected no tickets for failed payment, got %d", len(tickets))
	}
}

func TestSubmit_Gateway_WebhookReplayIdempotent(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	req := goldOrder("user1")
	req.PaymentMethod = "qicard_gateway"
	w := submit(t, router, req)
	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	cb, _ := json.Marshal(checkout.CallbackRequest{OrderID: resp.OrderID, Status: "paid"})
	for i := 0; i < 3; i++ {
		cbReq := httptest.NewRequest("POST", "/api/v1/payment-gateway/callback", bytes.NewReader(cb))
		cbReq.Header.Set("Content-Type", "application/json")
		cw := httptest.NewRecorder()
		router.ServeHTTP(cw, cbReq)
		if cw.Code != http.StatusOK {
			t.Fatalf("callback replay %d failed: %d", i, cw.Code)
		}
	}

	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 6 {
		t.Errorf("replayed webhook duplicated tickets: got %d, want 6", len(tickets))
	}
	points, _ := ms.LoyaltyPoints(ctx, "user1")
	if points != 4 {
		t.Errorf("replayed webhook duplicated loyalty points: got %d, want 4", points)
	}
}

func TestHandleGatewayCallback_RejectsNonGatewayOrder(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	// A card order sits in pending_payment between creation and the
	// charge verdict. A callback naming it must not confirm it.
	o := &model.Order{
		ID:     uuid.New().String(),
		UserID: "user1",
		Items: []model.LineItem{{
			ProductID:      "prod-1",
			ProductName:    "gold ring",
			Category:       "gold",
			UnitPrice:      d(15),
			Quantity:       2,
			LotteryTickets: 3,
		}},
		Shipping: model.ShippingInfo{
			Name: "Ali Hassan", Phone: "07700000000", Address: "12 Al-Mansour St", City: "Baghdad",
		},
		ShippingCost:      d(5),
		Tax:               d(5),
		Total:             d(40),
		PaymentMethod:     model.PaymentCreditCard,
		PaymentStatus:     model.PaymentPending,
		FulfillmentStatus: model.FulfillmentPendingPayment,
		CreatedAt:         time.Now().UTC(),
	}
	if err := ms.CreateOrder(ctx, o); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}

	cb, _ := json.Marshal(checkout.CallbackRequest{OrderID: o.ID, Status: "paid"})
	cbReq := httptest.NewRequest("POST", "/api/v1/payment-gateway/callback", bytes.NewReader(cb))
	cbReq.Header.Set("Content-Type", "application/json")
	cw := httptest.NewRecorder()
	router.ServeHTTP(cw, cbReq)

	if cw.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a non-gateway order, got %d", cw.Code)
	}
	after, _ := ms.GetOrder(ctx, o.ID)
	if after.PaymentStatus != model.PaymentPending || after.FulfillmentStatus != model.FulfillmentPendingPayment {
		t.Errorf("callback changed a non-gateway order: %s/%s", after.PaymentStatus, after.FulfillmentStatus)
	}
	tickets, _ := ms.TicketsByOrder(ctx, o.ID)
	if len(tickets) != 0 {
		t.Errorf("callback issued %d tickets for a non-gateway order", len(tickets))
	}
}

func TestHandleGatewayInitialize_NotAwaitingPayment(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	ms.CreditWallet(ctx, "user1", d(100), "top-up", "")
	req := goldOrder("user1")
	req.PaymentMethod = "wallet"
	w := submit(t, router, req)
	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	body, _ := json.Marshal(checkout.InitializeRequest{OrderID: resp.OrderID})
	initReq := httptest.NewRequest("POST", "/api/v1/payment-gateway/initialize", bytes.NewReader(body))
	initReq.Header.Set("Content-Type", "application/json")
	iw := httptest.NewRecorder()
	router.ServeHTTP(iw, initReq)

	if iw.Code != http.StatusConflict {
		t.Errorf("expected 409 initializing a completed order, got %d", iw.Code)
	}
}

// --- Validation ---

func TestSubmit_TotalMismatch(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	req := goldOrder("user1")
	req.PaymentMethod = "cash_on_delivery"
	req.Total = d(99)
	w := submit(t, router, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for total mismatch, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmit_MissingShipping(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	req := goldOrder("user1")
	req.PaymentMethod = "cash_on_delivery"
	req.ShippingAddress.Phone = ""
	w := submit(t, router, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing phone, got %d", w.Code)
	}
}

func TestSubmit_ZeroQuantityItem(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	req := goldOrder("user1")
	req.PaymentMethod = "cash_on_delivery"
	req.Items[0].Quantity = 0
	req.Total = d(10)
	w := submit(t, router, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero quantity, got %d", w.Code)
	}
}

func TestSubmit_UnknownPaymentMethod(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	req := goldOrder("user1")
	req.PaymentMethod = "barter"
	w := submit(t, router, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown method, got %d", w.Code)
	}
}

func TestSubmit_NoTicketItems(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	ctx := context.Background()

	// An order whose items grant no tickets still completes normally.
	req := checkout.SubmitRequest{
		UserID: "user1",
		Items: []model.LineItem{{
			ProductID:   "prod-2",
			ProductName: "plain mug",
			Category:    "homeware",
			UnitPrice:   d(8),
			Quantity:    1,
		}},
		ShippingAddress: model.ShippingInfo{
			Name: "Ali Hassan", Phone: "07700000000", Address: "12 Al-Mansour St", City: "Baghdad",
		},
		ShippingCost:  d(2),
		Tax:           decimal.Zero,
		Total:         d(10),
		PaymentMethod: "cash_on_delivery",
	}
	w := submit(t, router, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp checkout.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.FulfillmentStatus != model.FulfillmentCompleted {
		t.Errorf("expected completed, got %s", resp.FulfillmentStatus)
	}
	tickets, _ := ms.TicketsByOrder(ctx, resp.OrderID)
	if len(tickets) != 0 {
		t.Errorf("expected no tickets, got %d", len(tickets))
	}
}
