package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical payment statuses. Provider vocabularies always collapse onto these.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// Payment is a single checkout attempt against one gateway.
// CreatedAt doubles as date_created for the reconciliation window.
type Payment struct {
	BaseModel
	RefID                string              `gorm:"column:ref_id;uniqueIndex;not null" json:"ref_id"`
	CustomerEmail        string              `json:"customer_email"`
	PaymentGateway       string              `gorm:"index" json:"payment_gateway"`
	Amount               decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency             string              `gorm:"size:8" json:"currency"`
	Status               string              `gorm:"size:16;index;not null;default:PENDING" json:"status"`
	PaymentMethod        string              `json:"payment_method"`
	GatewayTransactionID string              `gorm:"column:gateway_transaction_id;index" json:"transaction_id"`
	PaymentURL           string              `json:"payment_url"`
	PaymentAddress       string              `json:"payment_address"`
	Description          string              `json:"description"`
	MPGSSuccessIndicator string              `gorm:"column:mpgs_success_indicator" json:"-"`
	MPGSSessionVersion   string              `gorm:"column:mpgs_session_version" json:"mpgs_session_version"`
	MPGSOrderAmount      decimal.NullDecimal `gorm:"column:mpgs_order_amount;type:numeric(12,2)" json:"mpgs_order_amount"`
	MPGSOrderCurrency    string              `gorm:"column:mpgs_order_currency;size:8" json:"mpgs_order_currency"`
	ExpiryDatetime       *time.Time          `gorm:"column:expiry_datetime" json:"expiry_datetime"`
	DatePaid             *time.Time          `gorm:"column:date_paid" json:"date_paid"`
}

// IsCompleted reports whether the payment reached its terminal success state.
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}
