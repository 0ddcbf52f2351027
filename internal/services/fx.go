package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/esimpay/internal/config"
)

// FXConversionError is the only error the converter returns.
type FXConversionError struct {
	Message string
	Err     error
}

func (e *FXConversionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *FXConversionError) Unwrap() error {
	return e.Err
}

func fxError(format string, args ...any) *FXConversionError {
	return &FXConversionError{Message: fmt.Sprintf(format, args...)}
}

// CurrencyConverter converts an amount between two currency codes.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, source, target string) (decimal.Decimal, error)
}

// NewCurrencyConverter returns the live converter when an FX endpoint is configured,
// otherwise the static USD/SAR converter.
func NewCurrencyConverter(cfg config.FXConfig, timeout time.Duration) CurrencyConverter {
	if cfg.Live() {
		return &LiveConverter{
			BaseURL: cfg.APIURL,
			APIKey:  cfg.APIKey,
			Client:  &http.Client{Timeout: timeout},
		}
	}
	return &StaticConverter{Rate: cfg.USDToSARRate}
}

// ParseAmount parses user supplied money into a decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fxError("amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &FXConversionError{Message: fmt.Sprintf("invalid amount %q", raw), Err: err}
	}
	return amount, nil
}

func normalizePair(source, target string) (string, string, error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	target = strings.ToUpper(strings.TrimSpace(target))
	if source == "" || target == "" {
		return "", "", fxError("source and target currencies are required")
	}
	return source, target, nil
}

// StaticConverter supports USD<->SAR only, using a configured peg.
type StaticConverter struct {
	Rate decimal.Decimal
}

func (c *StaticConverter) Convert(_ context.Context, amount decimal.Decimal, source, target string) (decimal.Decimal, error) {
	source, target, err := normalizePair(source, target)
	if err != nil {
		return decimal.Zero, err
	}
	if source == target {
		return amount, nil
	}
	if !c.Rate.IsPositive() {
		return decimal.Zero, fxError("invalid USD/SAR rate %s", c.Rate.String())
	}

	switch {
	case source == "USD" && target == "SAR":
		return amount.Mul(c.Rate), nil
	case source == "SAR" && target == "USD":
		return amount.Div(c.Rate), nil
	default:
		return decimal.Zero, fxError("Unsupported currency conversion from %s to %s", source, target)
	}
}

// LiveConverter asks an external FX endpoint for a converted amount.
// A non-success payload is a hard failure; there is no fallback to the static rate.
type LiveConverter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type fxQuoteResponse struct {
	Success bool                `json:"success"`
	Result  decimal.NullDecimal `json:"result"`
	Error   *struct {
		Code any    `json:"code"`
		Info string `json:"info"`
		Type string `json:"type"`
	} `json:"error"`
}

func (c *LiveConverter) Convert(ctx context.Context, amount decimal.Decimal, source, target string) (decimal.Decimal, error) {
	source, target, err := normalizePair(source, target)
	if err != nil {
		return decimal.Zero, err
	}
	if source == target {
		return amount, nil
	}

	query := url.Values{}
	query.Set("from", source)
	query.Set("to", target)
	query.Set("amount", amount.String())
	if c.APIKey != "" {
		query.Set("access_key", c.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, &FXConversionError{Message: "build FX request", Err: err}
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return decimal.Zero, &FXConversionError{Message: "FX rate request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fxError("FX rate request failed: status %d", resp.StatusCode)
	}

	var quote fxQuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return decimal.Zero, &FXConversionError{Message: "FX rate response is not valid JSON", Err: err}
	}
	if !quote.Success {
		info := "unknown error"
		if quote.Error != nil && quote.Error.Info != "" {
			info = quote.Error.Info
		}
		log.Printf("[FX] quote %s->%s rejected: %s", source, target, info)
		return decimal.Zero, fxError("FX provider rejected %s to %s: %s", source, target, info)
	}
	if !quote.Result.Valid {
		return decimal.Zero, fxError("FX provider returned no result for %s to %s", source, target)
	}
	if !quote.Result.Decimal.IsPositive() {
		return decimal.Zero, fxError("FX provider returned non-positive amount %s", quote.Result.Decimal.String())
	}
	return quote.Result.Decimal, nil
}
