package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

// MastercardGateway drives Mastercard Hosted Checkout (also sold as HyperPay MPGS).
type MastercardGateway struct {
	cfg    config.MastercardConfig
	conv   CurrencyConverter
	client *http.Client
	clock  clockz.Clock
}

func NewMastercardGateway(cfg config.MastercardConfig, conv CurrencyConverter, timeout time.Duration, clock clockz.Clock) *MastercardGateway {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MastercardGateway{
		cfg:    cfg,
		conv:   conv,
		client: &http.Client{Timeout: timeout},
		clock:  clock,
	}
}

func (g *MastercardGateway) Name() string { return GatewayMastercard }

type mastercardSessionRequest struct {
	APIOperation string `json:"apiOperation"`
	Interaction  struct {
		Operation string `json:"operation"`
		ReturnURL string `json:"returnUrl,omitempty"`
		Merchant  *struct {
			Name string `json:"name"`
			URL  string `json:"url,omitempty"`
		} `json:"merchant,omitempty"`
	} `json:"interaction"`
	Order struct {
		ID          string `json:"id"`
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		Description string `json:"description,omitempty"`
	} `json:"order"`
	Customer struct {
		Email string `json:"email,omitempty"`
	} `json:"customer"`
}

type mastercardSessionResponse struct {
	Result  string `json:"result"`
	Session struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"session"`
	SuccessIndicator string `json:"successIndicator"`
}

func (g *MastercardGateway) merchantURL(path string) string {
	return fmt.Sprintf("%s/api/rest/version/%s/merchant/%s/%s", g.cfg.BaseURL, g.cfg.APIVersion, g.cfg.MerchantID, path)
}

func (g *MastercardGateway) auth(req *http.Request) {
	req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
}

// InitiateCheckout creates a hosted checkout session. The order id is the payment reference.
func (g *MastercardGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) CheckoutResult {
	if !g.cfg.Complete() {
		return checkoutFailure("Mastercard configuration is incomplete.")
	}

	order, err := prepareOrder(ctx, g.conv, req.Amount, req.Currency, g.cfg.AcceptedCurrencies, g.cfg.SettlementCurrency)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Unable to prepare Mastercard order: %v", err))
	}

	var body mastercardSessionRequest
	body.APIOperation = "INITIATE_CHECKOUT"
	body.Interaction.Operation = "PURCHASE"
	body.Interaction.ReturnURL = expandOrderTemplate(g.cfg.ReturnURL, req.ReferenceID)
	if g.cfg.MerchantName != "" {
		body.Interaction.Merchant = &struct {
			Name string `json:"name"`
			URL  string `json:"url,omitempty"`
		}{Name: g.cfg.MerchantName, URL: g.cfg.MerchantURL}
	}
	body.Order.ID = req.ReferenceID
	body.Order.Amount = order.Amount.StringFixed(2)
	body.Order.Currency = order.Currency
	body.Order.Description = truncate(req.Description, g.cfg.DescriptionMaxChars)
	body.Customer.Email = req.CustomerEmail

	resp, err := doJSON(ctx, g.client, http.MethodPost, g.merchantURL("session"), body, g.auth)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Error creating Mastercard session: %v", err))
	}
	if !resp.ok() {
		log.Printf("[Mastercard] session for %s rejected: status %d", req.ReferenceID, resp.Status)
		return checkoutFailure(fmt.Sprintf("Error creating Mastercard session: %v", statusError(resp)))
	}

	var session mastercardSessionResponse
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return checkoutFailure("Mastercard session response is not valid JSON.")
	}
	if session.Session.ID == "" || session.SuccessIndicator == "" {
		return checkoutFailure("Mastercard session response missing session id or success indicator.")
	}

	expiresAt := g.clock.Now().UTC().Add(g.cfg.SessionTimeout)
	return CheckoutResult{
		Status:           true,
		SessionID:        session.Session.ID,
		SessionVersion:   session.Session.Version,
		SuccessIndicator: session.SuccessIndicator,
		OrderAmount:      order.Amount,
		OrderCurrency:    order.Currency,
		ExpiresAt:        &expiresAt,
		Raw:              resp.Body,
	}
}

// FetchStatus retrieves the order by payment reference and normalizes it.
func (g *MastercardGateway) FetchStatus(ctx context.Context, payment *models.Payment) StatusResult {
	if !g.cfg.Complete() {
		return errorResult("Mastercard configuration is incomplete.")
	}

	resp, err := doJSON(ctx, g.client, http.MethodGet, g.merchantURL("order/"+payment.RefID), nil, g.auth)
	if err != nil {
		return errorResult(fmt.Sprintf("Error fetching Mastercard status: %v", err))
	}
	if !resp.ok() {
		return errorResult(fmt.Sprintf("Error fetching Mastercard status: %v", statusError(resp)))
	}

	order, err := decodeMastercardOrder(resp.Body)
	if err != nil {
		return errorResult("Mastercard status response is not valid JSON.")
	}

	return StatusResult{
		Normalized: NormalizeMastercard(order),
		Amount:     order.Amount,
		Currency:   order.Currency,
		Raw:        resp.Body,
	}
}

// decodeMastercardOrder accepts an order object or a list whose first element is the order.
func decodeMastercardOrder(body []byte) (MastercardOrder, error) {
	var order MastercardOrder
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var list []MastercardOrder
		if err := json.Unmarshal(body, &list); err != nil {
			return order, err
		}
		if len(list) > 0 {
			order = list[0]
		}
		return order, nil
	}
	err := json.Unmarshal(body, &order)
	return order, err
}

// expandOrderTemplate fills an "{order_id}" placeholder in return URLs.
func expandOrderTemplate(template, orderID string) string {
	return strings.ReplaceAll(template, "{order_id}", orderID)
}
