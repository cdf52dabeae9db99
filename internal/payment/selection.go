// Package payment defines the payment-path tagged union and the adapter
// for the external payment gateway.
package payment

import (
	"errors"
	"fmt"

	"github.com/prizeshop/checkout-engine/internal/model"
)

// ErrUnknownMethod is returned for a payment_method outside the supported set.
var ErrUnknownMethod = errors.New("payment: unknown payment method")

// Selection is the payment path chosen at checkout. Exactly one variant per
// path, each carrying only the fields that path requires, so invalid field
// combinations are unrepresentable.
type Selection interface {
	Method() model.PaymentMethod
}

// Wallet pays from the user's store-credit balance, deducted before the
// order record is created.
type Wallet struct{}

func (Wallet) Method() model.PaymentMethod { return model.PaymentWallet }

// Card is a synchronous credit-card charge.
type Card struct {
	Token string // tokenized card from the storefront
}

func (Card) Method() model.PaymentMethod { return model.PaymentCreditCard }

// SavedMethod charges a stored payment method by its id.
type SavedMethod struct {
	MethodID string
}

func (SavedMethod) Method() model.PaymentMethod { return model.PaymentSavedMethod }

// PayPal is a synchronous PayPal charge.
type PayPal struct {
	Token string
}

func (PayPal) Method() model.PaymentMethod { return model.PaymentPayPal }

// Gateway redirects the user to the external gateway; confirmation arrives
// later via webhook.
type Gateway struct {
	ReturnURL string // where the gateway sends the user after payment
}

func (Gateway) Method() model.PaymentMethod { return model.PaymentQiCardGateway }

// CashOnDelivery collects payment at delivery; no payment step at checkout.
type CashOnDelivery struct{}

func (CashOnDelivery) Method() model.PaymentMethod { return model.PaymentCashOnDelivery }

// SelectionFields carries the path-specific fields from the checkout
// request body.
type SelectionFields struct {
	CardToken     string `json:"card_token,omitempty"`
	SavedMethodID string `json:"saved_method_id,omitempty"`
	PayPalToken   string `json:"paypal_token,omitempty"`
	ReturnURL     string `json:"return_url,omitempty"`
}

// ParseSelection builds the tagged union from a wire-level method string
// plus its fields, validating that the required field for the path is set.
func ParseSelection(method string, f SelectionFields) (Selection, error) {
	switch model.PaymentMethod(method) {
	case model.PaymentWallet:
		return Wallet{}, nil
	case model.PaymentCreditCard:
		if f.CardToken == "" {
			return nil, fmt.Errorf("payment: card_token is required for %s", method)
		}
		return Card{Token: f.CardToken}, nil
	case model.PaymentSavedMethod:
		if f.SavedMethodID == "" {
			return nil, fmt.Errorf("payment: saved_method_id is required for %s", method)
		}
		return SavedMethod{MethodID: f.SavedMethodID}, nil
	case model.PaymentPayPal:
		if f.PayPalToken == "" {
			return nil, fmt.Errorf("payment: paypal_token is required for %s", method)
		}
		return PayPal{Token: f.PayPalToken}, nil
	case model.PaymentQiCardGateway:
		return Gateway{ReturnURL: f.ReturnURL}, nil
	case model.PaymentCashOnDelivery:
		return CashOnDelivery{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}
