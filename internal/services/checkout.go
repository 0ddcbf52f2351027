package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/example/esimpay/internal/models"
)

// CheckoutService starts a checkout with a gateway and records the PENDING payment.
type CheckoutService struct {
	store    PaymentStore
	gateways *GatewayRegistry
}

func NewCheckoutService(store PaymentStore, gateways *GatewayRegistry) *CheckoutService {
	return &CheckoutService{store: store, gateways: gateways}
}

// StartCheckout runs the gateway checkout. A payment row is written only
// after the gateway accepted the session, so failed attempts leave nothing behind.
func (s *CheckoutService) StartCheckout(ctx context.Context, gatewayName string, req CheckoutRequest) (*models.Payment, CheckoutResult, error) {
	gateway, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, CheckoutResult{}, err
	}

	if req.ReferenceID == "" {
		req.ReferenceID = uuid.NewString()
	}

	result := gateway.InitiateCheckout(ctx, req)
	if !result.Status {
		log.Printf("[Checkout] %s %s rejected: %s", gatewayName, req.ReferenceID, result.Message)
		return nil, result, nil
	}

	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, result, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	payment := &models.Payment{
		RefID:                req.ReferenceID,
		CustomerEmail:        req.CustomerEmail,
		PaymentGateway:       gatewayName,
		Amount:               amount.Round(2),
		Currency:             currency,
		Status:               models.PaymentStatusPending,
		GatewayTransactionID: result.SessionID,
		PaymentURL:           result.CheckoutURL,
		PaymentAddress:       result.PaymentAddress,
		Description:          req.Description,
		MPGSSuccessIndicator: result.SuccessIndicator,
		MPGSSessionVersion:   result.SessionVersion,
		MPGSOrderAmount:      decimal.NewNullDecimal(result.OrderAmount),
		MPGSOrderCurrency:    result.OrderCurrency,
		ExpiryDatetime:       result.ExpiresAt,
	}
	if err := s.store.Create(ctx, payment); err != nil {
		return nil, result, fmt.Errorf("save payment %s: %w", req.ReferenceID, err)
	}

	event := &models.PaymentGatewayEvent{
		PaymentID:       payment.ID,
		Gateway:         gatewayName,
		Kind:            models.GatewayEventCheckout,
		CanonicalStatus: models.PaymentStatusPending,
	}
	if len(result.Raw) > 0 && json.Valid(result.Raw) {
		event.Payload = datatypes.JSON(result.Raw)
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		log.Printf("[Checkout] failed to record checkout event for %s: %v", payment.RefID, err)
	}

	return payment, result, nil
}
