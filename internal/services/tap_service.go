package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

// TapGateway creates and polls Tap Payments charges.
type TapGateway struct {
	cfg    config.TapConfig
	conv   CurrencyConverter
	client *http.Client
}

func NewTapGateway(cfg config.TapConfig, conv CurrencyConverter, timeout time.Duration) *TapGateway {
	return &TapGateway{cfg: cfg, conv: conv, client: &http.Client{Timeout: timeout}}
}

func (g *TapGateway) Name() string { return GatewayTap }

func (g *TapGateway) auth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
}

func (g *TapGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) CheckoutResult {
	if !g.cfg.Complete() {
		return checkoutFailure("Tap configuration is incomplete.")
	}

	order, err := prepareOrder(ctx, g.conv, req.Amount, req.Currency, nil, "")
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Unable to prepare Tap charge: %v", err))
	}

	payload := map[string]any{
		"amount":      json.Number(order.Amount.StringFixed(2)),
		"currency":    order.Currency,
		"customer":    map[string]any{"email": req.CustomerEmail},
		"source":      map[string]any{"id": "src_all"},
		"redirect":    map[string]any{"url": g.cfg.RedirectURL},
		"reference":   map[string]any{"transaction": req.ReferenceID},
		"description": req.Description,
	}

	resp, err := doJSON(ctx, g.client, http.MethodPost, g.cfg.BaseURL+"/charges", payload, g.auth)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Error creating payment: %v", err))
	}
	if !resp.ok() {
		return checkoutFailure(fmt.Sprintf("Error creating payment: %v", statusError(resp)))
	}

	var charge TapCharge
	if err := json.Unmarshal(resp.Body, &charge); err != nil || charge.ID == "" {
		return checkoutFailure("Failed to create payment charge.")
	}

	return CheckoutResult{
		Status:        true,
		SessionID:     charge.ID,
		CheckoutURL:   charge.Transaction.URL,
		OrderAmount:   order.Amount,
		OrderCurrency: order.Currency,
		ExpiresAt:     tapExpiry(charge),
		Raw:           resp.Body,
	}
}

// FetchStatus polls the charge stored as the payment's gateway transaction id.
func (g *TapGateway) FetchStatus(ctx context.Context, payment *models.Payment) StatusResult {
	if !g.cfg.Complete() {
		return errorResult("Tap configuration is incomplete.")
	}
	if payment.GatewayTransactionID == "" {
		return errorResult("Tap charge id is missing.")
	}

	resp, err := doJSON(ctx, g.client, http.MethodGet, g.cfg.BaseURL+"/charges/"+url.PathEscape(payment.GatewayTransactionID), nil, g.auth)
	if err != nil {
		return errorResult(fmt.Sprintf("Error fetching Tap status: %v", err))
	}
	if !resp.ok() {
		return errorResult(fmt.Sprintf("Error fetching Tap status: %v", statusError(resp)))
	}

	var charge TapCharge
	if err := json.Unmarshal(resp.Body, &charge); err != nil {
		return errorResult("Tap status response is not valid JSON.")
	}

	return StatusResult{
		Normalized: NormalizeTap(charge),
		Amount:     charge.Amount,
		Currency:   charge.Currency,
		Raw:        resp.Body,
	}
}

// tapExpiry derives the checkout deadline from transaction.created (epoch ms)
// plus transaction.expiry. Unknown units fall back to the creation time.
func tapExpiry(charge TapCharge) *time.Time {
	createdMS, err := charge.Transaction.Created.Int64()
	if err != nil {
		log.Printf("[Tap] charge %s has no usable created timestamp", charge.ID)
		return nil
	}
	created := time.Unix(createdMS/1000, 0).UTC()

	period := time.Duration(charge.Transaction.Expiry.Period)
	var expiry time.Time
	switch strings.ToUpper(charge.Transaction.Expiry.Type) {
	case "MINUTE":
		expiry = created.Add(period * time.Minute)
	case "HOUR":
		expiry = created.Add(period * time.Hour)
	case "DAY":
		expiry = created.AddDate(0, 0, charge.Transaction.Expiry.Period)
	default:
		expiry = created
	}
	return &expiry
}
