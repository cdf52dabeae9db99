package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGateway wraps any adapter-level failure: the gateway rejected the
// request, timed out, or returned garbage.
var ErrGateway = errors.New("payment: gateway error")

// GatewayStatus is the gateway's view of an order's payment.
type GatewayStatus string

const (
	StatusPaid    GatewayStatus = "paid"
	StatusFailed  GatewayStatus = "failed"
	StatusPending GatewayStatus = "pending"
	StatusUnknown GatewayStatus = "unknown"
)

// InitRequest initializes an asynchronous redirect payment.
type InitRequest struct {
	OrderID      string          `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerName string          `json:"customer_name"`
	Phone        string          `json:"phone"`
	ReturnURL    string          `json:"return_url,omitempty"`
}

// InitResponse carries the hosted payment form the user is redirected to.
type InitResponse struct {
	FormURL string `json:"form_url"`
}

// ChargeRequest is a synchronous charge (card, saved method, PayPal).
type ChargeRequest struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Token   string          `json:"token"`
}

// ChargeResponse carries the confirmation token for a successful charge.
// An empty ConfirmationToken means the charge was not confirmed.
type ChargeResponse struct {
	ConfirmationToken string `json:"confirmation_token"`
}

// GatewayClient is the adapter contract to the external payment gateway.
// The real protocol is opaque HTTP: initialize returns a redirect form,
// charge settles synchronously, status answers reconciliation queries.
type GatewayClient interface {
	Initialize(ctx context.Context, req InitRequest) (*InitResponse, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
	Status(ctx context.Context, orderID string) (GatewayStatus, error)
}

// HTTPGateway talks JSON over HTTP to the gateway at a base URL.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client against the given base URL.
func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *HTTPGateway) Initialize(ctx context.Context, req InitRequest) (*InitResponse, error) {
	var resp InitResponse
	if err := g.post(ctx, "/initialize", req, &resp); err != nil {
		return nil, err
	}
	if resp.FormURL == "" {
		return nil, fmt.Errorf("%w: initialize returned no form_url", ErrGateway)
	}
	return &resp, nil
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	var resp ChargeResponse
	if err := g.post(ctx, "/charge", req, &resp); err != nil {
		return nil, err
	}
	if resp.ConfirmationToken == "" {
		return nil, fmt.Errorf("%w: charge was not confirmed", ErrGateway)
	}
	return &resp, nil
}

func (g *HTTPGateway) Status(ctx context.Context, orderID string) (GatewayStatus, error) {
	u := g.baseURL + "/status?order_id=" + url.QueryEscape(orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return StatusUnknown, err
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return StatusUnknown, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return StatusUnknown, fmt.Errorf("%w: status query returned %d", ErrGateway, httpResp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
		return StatusUnknown, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	switch GatewayStatus(body.Status) {
	case StatusPaid, StatusFailed, StatusPending:
		return GatewayStatus(body.Status), nil
	default:
		return StatusUnknown, nil
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrGateway, path, httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return nil
}
