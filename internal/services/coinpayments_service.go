package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

// CoinPaymentsGateway talks to the CoinPayments merchant API. Every call is a
// signed form POST to a single endpoint, selected by the cmd field.
type CoinPaymentsGateway struct {
	cfg    config.CoinPaymentsConfig
	client *http.Client
	clock  clockz.Clock
}

func NewCoinPaymentsGateway(cfg config.CoinPaymentsConfig, timeout time.Duration, clock clockz.Clock) *CoinPaymentsGateway {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &CoinPaymentsGateway{cfg: cfg, client: &http.Client{Timeout: timeout}, clock: clock}
}

func (g *CoinPaymentsGateway) Name() string { return GatewayCoinPayments }

// coinPaymentsCreated is the flattened create_transaction result.
type coinPaymentsCreated struct {
	Error          string          `json:"error"`
	TxnID          string          `json:"txn_id"`
	Address        string          `json:"address"`
	Amount         decimal.Decimal `json:"amount"`
	CheckoutURL    string          `json:"checkout_url"`
	StatusURL      string          `json:"status_url"`
	QRCodeURL      string          `json:"qrcode_url"`
	Timeout        int64           `json:"timeout"`
	ConfirmsNeeded string          `json:"confirms_needed"`
}

// sign returns the hex HMAC-SHA512 of the encoded body under the private key.
func (g *CoinPaymentsGateway) sign(encoded string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.PrivateKey))
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// call posts a command and returns the reply with its "result" object merged
// into the top level.
func (g *CoinPaymentsGateway) call(ctx context.Context, cmd string, params url.Values) ([]byte, error) {
	params.Set("cmd", cmd)
	params.Set("key", g.cfg.PublicKey)
	params.Set("version", "1")
	params.Set("format", "json")
	encoded := params.Encode()
	signature := g.sign(encoded)

	resp, err := do(ctx, g.client, http.MethodPost, g.cfg.APIURL, strings.NewReader(encoded),
		"application/x-www-form-urlencoded", func(req *http.Request) {
			req.Header.Set("hmac", signature)
		})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(resp)
	}
	return flattenResult(resp.Body)
}

func flattenResult(body []byte) ([]byte, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw, ok := envelope["result"]; ok {
		var inner map[string]json.RawMessage
		if json.Unmarshal(raw, &inner) == nil {
			for k, v := range inner {
				envelope[k] = v
			}
		}
		delete(envelope, "result")
	}
	return json.Marshal(envelope)
}

func (g *CoinPaymentsGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) CheckoutResult {
	if !g.cfg.Complete() {
		return checkoutFailure("CoinPayments configuration is incomplete.")
	}

	order, err := prepareOrder(ctx, nil, req.Amount, req.Currency, nil, "")
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Unable to prepare CoinPayments transaction: %v", err))
	}

	params := url.Values{}
	params.Set("amount", order.Amount.StringFixed(2))
	params.Set("currency1", order.Currency)
	params.Set("currency2", g.cfg.PayCurrency)
	params.Set("buyer_email", req.CustomerEmail)
	params.Set("item_name", "Payment for "+req.ReferenceID)
	params.Set("custom", req.ReferenceID)
	if g.cfg.IPNURL != "" {
		params.Set("ipn_url", g.cfg.IPNURL)
	}

	body, err := g.call(ctx, "create_transaction", params)
	if err != nil {
		return checkoutFailure(fmt.Sprintf("Error creating CoinPayments transaction: %v", err))
	}

	var created coinPaymentsCreated
	if err := json.Unmarshal(body, &created); err != nil {
		return checkoutFailure("CoinPayments response is not valid JSON.")
	}
	if created.Error != "ok" {
		return checkoutFailure(created.Error)
	}

	expiresAt := g.clock.Now().UTC().Add(time.Duration(created.Timeout) * time.Second)
	return CheckoutResult{
		Status:         true,
		SessionID:      created.TxnID,
		CheckoutURL:    created.CheckoutURL,
		PaymentAddress: created.Address,
		OrderAmount:    order.Amount,
		OrderCurrency:  order.Currency,
		ExpiresAt:      &expiresAt,
		Raw:            body,
	}
}

// FetchStatus runs get_tx_info. A reply whose error field is not "ok" says
// nothing about the payment and is reported as ERROR.
func (g *CoinPaymentsGateway) FetchStatus(ctx context.Context, payment *models.Payment) StatusResult {
	if !g.cfg.Complete() {
		return errorResult("CoinPayments configuration is incomplete.")
	}
	if payment.GatewayTransactionID == "" {
		return errorResult("CoinPayments transaction id is missing.")
	}

	params := url.Values{}
	params.Set("txid", payment.GatewayTransactionID)
	body, err := g.call(ctx, "get_tx_info", params)
	if err != nil {
		return errorResult(fmt.Sprintf("Error fetching CoinPayments status: %v", err))
	}

	var info CoinPaymentsTxInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return errorResult("CoinPayments status response is not valid JSON.")
	}
	if info.Error != "ok" {
		result := errorResult(info.Error)
		result.Raw = body
		return result
	}

	return StatusResult{
		Normalized: NormalizeCoinPayments(info),
		Amount:     info.Amountf,
		Raw:        body,
	}
}
