package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

// MPGSGateway is the legacy generic MPGS checkout that predates Hosted Checkout.
type MPGSGateway struct {
	cfg    config.MPGSConfig
	conv   CurrencyConverter
	client *http.Client
	clock  clockz.Clock
}

func NewMPGSGateway(cfg config.MPGSConfig, conv CurrencyConverter, timeout time.Duration, clock clockz.Clock) *MPGSGateway {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MPGSGateway{cfg: cfg, conv: conv, client: &http.Client{Timeout: timeout}, clock: clock}
}

func (g *MPGSGateway) Name() string { return GatewayMPGS }

func (g *MPGSGateway) url(path string) string {
	return fmt.Sprintf("%s/api/rest/version/%s/merchant/%s/%s", g.cfg.BaseURL, g.cfg.APIVersion, g.cfg.MerchantID, path)
}

func (g *MPGSGateway) auth(req *http.Request) {
	req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
}

func (g *MPGSGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) CheckoutResult {
	if !g.cfg.Complete() || g.cfg.CheckoutURL == "" {
		return checkoutFailure("MPGS configuration is incomplete.")
	}

	order, err := prepareOrder(ctx, g.conv, req.Amount, req.Currency, nil, "")
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Unable to prepare MPGS order: %v", err))
	}

	payload := map[string]any{
		"apiOperation": "CREATE_CHECKOUT_SESSION",
		"order": map[string]any{
			"amount":      order.Amount.StringFixed(2),
			"currency":    order.Currency,
			"id":          req.ReferenceID,
			"description": truncate(req.Description, 127),
		},
		"interaction": map[string]any{
			"operation": "PURCHASE",
			"returnUrl": expandOrderTemplate(g.cfg.ReturnURL, req.ReferenceID),
		},
		"transaction": map[string]any{"reference": req.ReferenceID},
		"customer":    map[string]any{"email": req.CustomerEmail},
	}

	resp, err := doJSON(ctx, g.client, http.MethodPost, g.url("session"), payload, g.auth)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Error creating MPGS session: %v", err))
	}
	if !resp.ok() {
		return checkoutFailure(fmt.Sprintf("Error creating MPGS session: %v", statusError(resp)))
	}

	var session mastercardSessionResponse
	if err := json.Unmarshal(resp.Body, &session); err != nil || session.Session.ID == "" {
		return checkoutFailure("MPGS session ID missing from response.")
	}

	expiresAt := g.clock.Now().UTC().Add(g.cfg.SessionTimeout)
	return CheckoutResult{
		Status:         true,
		SessionID:      session.Session.ID,
		SessionVersion: session.Session.Version,
		CheckoutURL:    fmt.Sprintf("%s?sessionId=%s", g.cfg.CheckoutURL, session.Session.ID),
		OrderAmount:    order.Amount,
		OrderCurrency:  order.Currency,
		ExpiresAt:      &expiresAt,
		Raw:            resp.Body,
	}
}

func (g *MPGSGateway) FetchStatus(ctx context.Context, payment *models.Payment) StatusResult {
	if !g.cfg.Complete() {
		return errorResult("MPGS configuration is incomplete.")
	}

	resp, err := doJSON(ctx, g.client, http.MethodGet, g.url("order/"+payment.RefID), nil, g.auth)
	if err != nil {
		return errorResult(fmt.Sprintf("Error fetching MPGS status: %v", err))
	}
	if !resp.ok() {
		return errorResult(fmt.Sprintf("Error fetching MPGS status: %v", statusError(resp)))
	}

	var order MPGSOrder
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return errorResult("MPGS status response is not valid JSON.")
	}

	return StatusResult{
		Normalized: NormalizeMPGS(order),
		Amount:     order.Amount,
		Currency:   order.Currency,
		Raw:        resp.Body,
	}
}
