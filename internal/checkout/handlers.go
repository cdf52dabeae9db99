package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/payment"
	"github.com/prizeshop/checkout-engine/internal/store"
)

// SubmitRequest is the JSON body for POST /api/v1/orders.
type SubmitRequest struct {
	UserID          string             `json:"user_id"`
	Items           []model.LineItem   `json:"items"`
	ShippingAddress model.ShippingInfo `json:"shipping_address"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost"`
	Tax             decimal.Decimal    `json:"tax"`
	Total           decimal.Decimal    `json:"total"`
	PaymentMethod   string             `json:"payment_method"`
	payment.SelectionFields
}

// SubmitResponse is returned from POST /api/v1/orders.
type SubmitResponse struct {
	OrderID           string                  `json:"order_id"`
	PaymentStatus     model.PaymentStatus     `json:"payment_status"`
	FulfillmentStatus model.FulfillmentStatus `json:"fulfillment_status"`
	FormURL           string                  `json:"form_url,omitempty"`
}

// HandleSubmit handles POST /api/v1/orders.
func (s *Service) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sel, err := payment.ParseSelection(body.PaymentMethod, body.SelectionFields)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.Submit(r.Context(), &Request{
		UserID:       body.UserID,
		Items:        body.Items,
		Shipping:     body.ShippingAddress,
		ShippingCost: body.ShippingCost,
		Tax:          body.Tax,
		Total:        body.Total,
		Payment:      sel,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, "insufficient wallet balance", http.StatusPaymentRequired)
		case errors.Is(err, payment.ErrGateway):
			writeError(w, "payment was not accepted", http.StatusBadGateway)
		default:
			writeError(w, "checkout failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SubmitResponse{
		OrderID:           result.Order.ID,
		PaymentStatus:     result.Order.PaymentStatus,
		FulfillmentStatus: result.Order.FulfillmentStatus,
		FormURL:           result.FormURL,
	})
}

// HandleGetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// HandleListOrders handles GET /api/v1/users/{userID}/orders.
func (s *Service) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrdersByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// InitializeRequest is the JSON body for POST /api/v1/payment-gateway/initialize.
type InitializeRequest struct {
	OrderID      string `json:"order_id"`
	CustomerInfo struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer_info"`
	ReturnURL string `json:"return_url,omitempty"`
}

// HandleGatewayInitialize handles POST /api/v1/payment-gateway/initialize.
// Re-initialization for an order still awaiting payment returns a fresh
// form URL (the user abandoned the first redirect).
func (s *Service) HandleGatewayInitialize(w http.ResponseWriter, r *http.Request) {
	var body InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.store.GetOrder(r.Context(), body.OrderID)
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	if order.PaymentMethod != model.PaymentQiCardGateway {
		writeError(w, "order was not placed through the payment gateway", http.StatusConflict)
		return
	}
	if order.FulfillmentStatus != model.FulfillmentPendingPayment {
		writeError(w, "order is not awaiting payment", http.StatusConflict)
		return
	}

	name, phone := body.CustomerInfo.Name, body.CustomerInfo.Phone
	if name == "" {
		name = order.Shipping.Name
	}
	if phone == "" {
		phone = order.Shipping.Phone
	}

	init, err := s.gateway.Initialize(r.Context(), payment.InitRequest{
		OrderID:      order.ID,
		Amount:       order.Total,
		CustomerName: name,
		Phone:        phone,
		ReturnURL:    body.ReturnURL,
	})
	if err != nil {
		writeError(w, "gateway initialization failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"form_url": init.FormURL})
}

// CallbackRequest is the webhook body the gateway posts after the user
// finishes (or abandons) the hosted payment form.
type CallbackRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // "paid" or "failed"
}

// HandleGatewayCallback handles POST /api/v1/payment-gateway/callback.
func (s *Service) HandleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	var body CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.OrderID == "" {
		writeError(w, "order_id is required", http.StatusBadRequest)
		return
	}

	order, err := s.HandleGatewayResult(r.Context(), body.OrderID, body.Status == "paid")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "order not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, ErrNotGatewayOrder) {
			writeError(w, "order was not placed through the payment gateway", http.StatusConflict)
			return
		}
		writeError(w, "failed to process payment result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
