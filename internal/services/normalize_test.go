package services

import (
	"encoding/json"
	"testing"

	_ "embed"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

//go:embed testdata/normalize_cases.yaml
var normalizeCases []byte

func normalizePayload(t *testing.T, gateway, payload string) Normalized {
	t.Helper()
	raw := []byte(payload)
	switch gateway {
	case "mastercard":
		order, err := decodeMastercardOrder(raw)
		assert.Nil(t, err, "failed to decode mastercard order")
		return NormalizeMastercard(order)
	case "mpgs":
		var order MPGSOrder
		assert.Nil(t, json.Unmarshal(raw, &order))
		return NormalizeMPGS(order)
	case "hyperpay_copypay":
		var p HyperPayPayment
		assert.Nil(t, json.Unmarshal(raw, &p))
		return NormalizeHyperPayCopyPay(p)
	case "hyperpay":
		var p HyperPayPayment
		assert.Nil(t, json.Unmarshal(raw, &p))
		return NormalizeHyperPayClassic(p)
	case "tap":
		var c TapCharge
		assert.Nil(t, json.Unmarshal(raw, &c))
		return NormalizeTap(c)
	case "coinpayments":
		var info CoinPaymentsTxInfo
		assert.Nil(t, json.Unmarshal(raw, &info))
		return NormalizeCoinPayments(info)
	}
	t.Fatalf("unknown gateway %q", gateway)
	return Normalized{}
}

func TestNormalizers(t *testing.T) {
	assertions := assert.New(t)

	type Expect struct {
		Status      Status `yaml:"status"`
		Method      string `yaml:"method"`
		Transaction string `yaml:"transaction"`
	}
	type Test struct {
		Name    string `yaml:"name"`
		Gateway string `yaml:"gateway"`
		Payload string `yaml:"payload"`
		Expect  Expect `yaml:"expect"`
	}

	var tests []Test
	err := yaml.Unmarshal(normalizeCases, &tests)
	assertions.Nil(err, "failed to load tests")
	assertions.NotEmpty(tests)

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assertions := assert.New(t)

			got := normalizePayload(t, test.Gateway, test.Payload)
			assertions.Equal(test.Expect.Status, got.Status)
			if test.Expect.Method != "" {
				assertions.Equal(test.Expect.Method, got.PaymentMethod)
			}
			if test.Expect.Transaction != "" {
				assertions.Equal(test.Expect.Transaction, got.TransactionID)
			}
		})
	}
}

func TestNormalizersNeverReturnError(t *testing.T) {
	payloads := []string{`{}`, `{"status":""}`, `{"result":null}`, `{"status":"???","result":{"code":"???"}}`}
	for _, gateway := range []string{"mastercard", "mpgs", "hyperpay_copypay", "hyperpay", "tap"} {
		for _, payload := range payloads {
			got := normalizePayload(t, gateway, payload)
			assert.NotEqual(t, StatusError, got.Status, "%s %s", gateway, payload)
			assert.Contains(t, []Status{StatusPending, StatusCompleted, StatusFailed}, got.Status)
		}
	}

	for _, text := range []string{"", "Funds received and confirmed", "???"} {
		got := NormalizeCoinPayments(CoinPaymentsTxInfo{StatusText: text})
		assert.Equal(t, StatusCompleted, got.Status, text)
	}
}

func TestResultCodeShapes(t *testing.T) {
	var order MPGSOrder
	assert.Nil(t, json.Unmarshal([]byte(`{"result":42}`), &order))
	assert.Equal(t, resultCode(""), order.Result)

	assert.Nil(t, json.Unmarshal([]byte(`{"result":{"code":"000.100.110"}}`), &order))
	assert.Equal(t, resultCode("000.100.110"), order.Result)
}
