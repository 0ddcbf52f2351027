package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/models"
)

// Gateway is one payment provider family. Neither method returns an error:
// failures travel inside the result so a sweep can move on to the next payment.
type Gateway interface {
	Name() string
	InitiateCheckout(ctx context.Context, req CheckoutRequest) CheckoutResult
	FetchStatus(ctx context.Context, payment *models.Payment) StatusResult
}

// GatewayRegistry resolves stored gateway names, including legacy aliases.
type GatewayRegistry struct {
	gateways map[string]Gateway
}

func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{gateways: make(map[string]Gateway)}
}

// Register adds g under its own name and every alias.
func (r *GatewayRegistry) Register(g Gateway, aliases ...string) {
	r.gateways[g.Name()] = g
	for _, alias := range aliases {
		r.gateways[alias] = g
	}
}

func (r *GatewayRegistry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, name)
	}
	return g, nil
}

// BuildGatewayRegistry wires every supported gateway from configuration.
// Gateways with incomplete credentials are still registered and report
// the problem per call.
func BuildGatewayRegistry(cfg *config.Config, conv CurrencyConverter, clock clockz.Clock) *GatewayRegistry {
	r := NewGatewayRegistry()
	r.Register(NewMastercardGateway(cfg.Mastercard, conv, cfg.GatewayTimeout, clock), GatewayHyperPayMPGS)
	r.Register(NewMPGSGateway(cfg.MPGS, conv, cfg.GatewayTimeout, clock))
	r.Register(NewHyperPayCopyPayGateway(cfg.HyperPay, conv, cfg.GatewayTimeout, clock))
	r.Register(NewHyperPayClassicGateway(cfg.HyperPay, conv, cfg.GatewayTimeout, clock))
	r.Register(NewTapGateway(cfg.Tap, conv, cfg.GatewayTimeout))
	r.Register(NewCoinPaymentsGateway(cfg.CoinPayments, cfg.GatewayTimeout, clock))
	return r
}

// preparedOrder is the amount and currency actually submitted to a gateway.
type preparedOrder struct {
	Amount   decimal.Decimal
	Currency string
}

// prepareOrder parses and normalizes the requested amount. When accepted is
// non-empty and the currency falls outside it, the amount is converted to the
// settlement currency first. The result is quantized to two places, half-up.
func prepareOrder(ctx context.Context, conv CurrencyConverter, amountRaw, currency string, accepted []string, settlement string) (preparedOrder, error) {
	amount, err := ParseAmount(amountRaw)
	if err != nil {
		return preparedOrder{}, err
	}
	if !amount.Round(2).IsPositive() {
		return preparedOrder{}, fxError("amount must be greater than zero, got %s", amount.String())
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}

	if len(accepted) > 0 && !containsCode(accepted, currency) {
		if conv == nil {
			return preparedOrder{}, fxError("no currency converter configured for %s", currency)
		}
		converted, err := conv.Convert(ctx, amount.Round(2), currency, settlement)
		if err != nil {
			return preparedOrder{}, err
		}
		amount = converted
		currency = strings.ToUpper(settlement)
	}

	return preparedOrder{Amount: amount.Round(2), Currency: currency}, nil
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// apiResponse bundles a raw provider reply.
type apiResponse struct {
	Status int
	Body   []byte
}

func (r *apiResponse) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// doJSON performs a request with an optional JSON body and returns the raw reply.
func doJSON(ctx context.Context, client *http.Client, method, url string, body any, decorate func(*http.Request)) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return do(ctx, client, method, url, reader, "application/json", decorate)
}

func do(ctx context.Context, client *http.Client, method, url string, body io.Reader, contentType string, decorate func(*http.Request)) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &apiResponse{Status: resp.StatusCode, Body: respBody}, nil
}

// statusError describes a non-2xx reply without echoing the body to callers.
func statusError(resp *apiResponse) error {
	return fmt.Errorf("unexpected status %d", resp.Status)
}
