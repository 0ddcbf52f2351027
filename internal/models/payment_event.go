package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Gateway event kinds.
const (
	GatewayEventStatusCheck = "status_check"
	GatewayEventCallback    = "callback"
	GatewayEventCheckout    = "checkout"
)

// PaymentGatewayEvent keeps the raw provider payload of every status fetch and
// callback so that operators can debug without exposing it in API responses.
type PaymentGatewayEvent struct {
	BaseModel
	PaymentID       uuid.UUID      `gorm:"type:uuid;index" json:"payment_id"`
	Gateway         string         `json:"gateway"`
	Kind            string         `gorm:"size:32" json:"kind"`
	CanonicalStatus string         `gorm:"size:16" json:"canonical_status"`
	RawStatus       string         `json:"raw_status"`
	Message         string         `json:"message"`
	Payload         datatypes.JSON `gorm:"type:jsonb" json:"payload"`
}
