package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

// HyperPayGateway covers both HyperPay flows. They share the OPPWA checkout API
// and differ only in how result codes are read.
type HyperPayGateway struct {
	name      string
	cfg       config.HyperPayConfig
	conv      CurrencyConverter
	client    *http.Client
	clock     clockz.Clock
	normalize func(HyperPayPayment) Normalized
}

// NewHyperPayCopyPayGateway returns the Copy&Pay widget flow.
func NewHyperPayCopyPayGateway(cfg config.HyperPayConfig, conv CurrencyConverter, timeout time.Duration, clock clockz.Clock) *HyperPayGateway {
	return newHyperPayGateway(GatewayHyperPayCopyPay, cfg, conv, timeout, clock, NormalizeHyperPayCopyPay)
}

// NewHyperPayClassicGateway returns the classic server-to-server flow.
func NewHyperPayClassicGateway(cfg config.HyperPayConfig, conv CurrencyConverter, timeout time.Duration, clock clockz.Clock) *HyperPayGateway {
	return newHyperPayGateway(GatewayHyperPay, cfg, conv, timeout, clock, NormalizeHyperPayClassic)
}

func newHyperPayGateway(name string, cfg config.HyperPayConfig, conv CurrencyConverter, timeout time.Duration, clock clockz.Clock, normalize func(HyperPayPayment) Normalized) *HyperPayGateway {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &HyperPayGateway{
		name:      name,
		cfg:       cfg,
		conv:      conv,
		client:    &http.Client{Timeout: timeout},
		clock:     clock,
		normalize: normalize,
	}
}

func (g *HyperPayGateway) Name() string { return g.name }

func (g *HyperPayGateway) auth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)
}

type hyperPayCheckoutResponse struct {
	ID     string `json:"id"`
	Result struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"result"`
}

func (g *HyperPayGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) CheckoutResult {
	if !g.cfg.Complete() || g.cfg.CheckoutURL == "" {
		return checkoutFailure("HyperPay configuration is incomplete.")
	}

	order, err := prepareOrder(ctx, g.conv, req.Amount, req.Currency, g.cfg.AcceptedCurrencies, g.cfg.SettlementCurrency)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Unable to prepare HyperPay checkout: %v", err))
	}

	form := url.Values{}
	form.Set("entityId", g.cfg.EntityID)
	form.Set("amount", order.Amount.StringFixed(2))
	form.Set("currency", order.Currency)
	form.Set("paymentType", g.cfg.PaymentType)
	form.Set("merchantTransactionId", req.ReferenceID)
	if req.CustomerEmail != "" {
		form.Set("customer.email", req.CustomerEmail)
	}
	if req.Description != "" {
		form.Set("billing.description", truncate(req.Description, 127))
	}
	if g.cfg.ReturnURL != "" {
		form.Set("shopperResultUrl", expandOrderTemplate(g.cfg.ReturnURL, req.ReferenceID))
	}

	resp, err := do(ctx, g.client, http.MethodPost, g.cfg.BaseURL+"/v1/checkouts",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", g.auth)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Error creating HyperPay checkout: %v", err))
	}
	if !resp.ok() {
		return checkoutFailure(fmt.Sprintf("Error creating HyperPay checkout: %v", statusError(resp)))
	}

	var checkout hyperPayCheckoutResponse
	if err := json.Unmarshal(resp.Body, &checkout); err != nil || checkout.ID == "" {
		return checkoutFailure("HyperPay checkout ID missing from response.")
	}

	expiresAt := g.clock.Now().UTC().Add(g.cfg.CheckoutTimeout)
	return CheckoutResult{
		Status:        true,
		SessionID:     checkout.ID,
		CheckoutURL:   fmt.Sprintf("%s?id=%s", g.cfg.CheckoutURL, url.QueryEscape(checkout.ID)),
		OrderAmount:   order.Amount,
		OrderCurrency: order.Currency,
		ExpiresAt:     &expiresAt,
		Raw:           resp.Body,
	}
}

// FetchStatus queries the checkout's payment using the stored checkout id.
func (g *HyperPayGateway) FetchStatus(ctx context.Context, payment *models.Payment) StatusResult {
	if !g.cfg.Complete() {
		return errorResult("HyperPay configuration is incomplete.")
	}
	if payment.GatewayTransactionID == "" {
		return errorResult("HyperPay checkout id is missing.")
	}

	endpoint := fmt.Sprintf("%s/v1/checkouts/%s/payment?entityId=%s",
		g.cfg.BaseURL, url.PathEscape(payment.GatewayTransactionID), url.QueryEscape(g.cfg.EntityID))

	resp, err := do(ctx, g.client, http.MethodGet, endpoint, nil, "", g.auth)
	if err != nil {
		return errorResult(fmt.Sprintf("Error fetching HyperPay status: %v", err))
	}
	if !resp.ok() {
		return errorResult(fmt.Sprintf("Error fetching HyperPay status: %v", statusError(resp)))
	}

	var status HyperPayPayment
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return errorResult("HyperPay status response is not valid JSON.")
	}

	return StatusResult{
		Normalized: g.normalize(status),
		Amount:     status.Amount,
		Currency:   status.Currency,
		Raw:        resp.Body,
	}
}
