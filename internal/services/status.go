package services

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/esimpay/internal/models"
)

// Status is the canonical outcome of a gateway status fetch.
// ERROR is never persisted; it means "could not tell this pass".
type Status string

const (
	StatusPending   Status = models.PaymentStatusPending
	StatusCompleted Status = models.PaymentStatusCompleted
	StatusFailed    Status = models.PaymentStatusFailed
	StatusError     Status = "ERROR"
)

// Gateway names as stored on payments.
const (
	GatewayMastercard      = "MastercardHostedCheckout"
	GatewayHyperPayMPGS    = "HyperPayMPGS"
	GatewayMPGS            = "MPGS"
	GatewayHyperPayCopyPay = "HyperPayCopyPay"
	GatewayHyperPay        = "HyperPay"
	GatewayTap             = "Tap"
	GatewayCoinPayments    = "CoinPayments"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrStatusConflict     = errors.New("payment status changed concurrently")
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
)

// Normalized is what a gateway normalizer extracts from a typed provider response.
type Normalized struct {
	Status        Status
	RawStatus     string
	PaymentMethod string
	TransactionID string
}

// StatusResult is the full outcome of fetching a payment's live status.
type StatusResult struct {
	Normalized
	Amount   decimal.NullDecimal
	Currency string
	Message  string
	Raw      json.RawMessage
}

func errorResult(message string) StatusResult {
	return StatusResult{Normalized: Normalized{Status: StatusError}, Message: message}
}

// CheckoutRequest is the canonical input of every checkout initiation.
type CheckoutRequest struct {
	Amount        string
	Currency      string
	CustomerEmail string
	ReferenceID   string
	Description   string
}

// CheckoutResult mirrors the `{status: bool, ...}` shape handed back to the web layer.
type CheckoutResult struct {
	Status           bool            `json:"status"`
	SessionID        string          `json:"session_id,omitempty"`
	SessionVersion   string          `json:"session_version,omitempty"`
	CheckoutURL      string          `json:"checkout_url,omitempty"`
	SuccessIndicator string          `json:"success_indicator,omitempty"`
	PaymentAddress   string          `json:"payment_address,omitempty"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	OrderCurrency    string          `json:"order_currency,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	Message          string          `json:"message,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

func checkoutFailure(message string) CheckoutResult {
	return CheckoutResult{Status: false, Message: message}
}
