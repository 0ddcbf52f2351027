package services

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Every normalizer defaults to PENDING unless the payload carries an
// unambiguous terminal signal. Tables below are matched against upper-cased values.

var (
	mastercardSuccessStatuses = stringSet("CAPTURED", "APPROVED", "SUCCESS", "SUCCESSFUL", "PAID", "SETTLED")
	mastercardPendingStatuses = stringSet("PENDING", "IN_PROGRESS", "INITIATED", "AUTHORIZED", "AUTHORISED", "AUTHORISED_PENDING_SETTLEMENT")
	// Substring markers, not exact codes: the gateway keeps adding variants
	// such as EXPIRED, PARTIALLY_FAILED, CANCELLED_BY_MERCHANT.
	mastercardFailureMarkers = []string{"EXPIRE", "FAIL", "CANCEL", "DECLIN"}

	hyperPayCopyPaySuccessPrefixes = []string{"000.000", "000.100"}
	hyperPayCopyPayPendingPrefixes = []string{"000.200"}

	hyperPayClassicSuccessPrefixes = []string{"000.000", "000.100", "000.300"}
	hyperPayClassicPendingPrefixes = []string{"000.200", "100.400"}

	mpgsSuccessPrefixes = []string{"SUCCESS", "000"}
	mpgsPendingPrefixes = []string{"200"}
	mpgsPendingMarkers  = []string{"PENDING"}

	mpgsOrderSuccessMarkers = []string{"CAPTURED", "COMPLETED", "PAID"}
	mpgsOrderPendingMarkers = []string{"PENDING", "INITIATED", "IN_PROGRESS"}
	mpgsOrderFailureMarkers = []string{"DECLINED", "CANCELLED", "FAILED"}

	tapSuccessStatuses = stringSet("CAPTURED")
	tapPendingStatuses = stringSet("INITIATED", "PENDING", "AUTHORIZED", "AUTHORISED")
)

const (
	coinPaymentsWaiting   = "Waiting for buyer funds..."
	coinPaymentsCancelled = "Cancelled / Timed Out"
)

// resultCode accepts either a bare string or an object carrying a "code" field.
type resultCode string

func (r *resultCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = resultCode(s)
		return nil
	}
	if b[0] == '{' {
		var obj struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = resultCode(obj.Code)
		return nil
	}
	*r = ""
	return nil
}

// MastercardTransaction is one entry of an order's transaction history.
type MastercardTransaction struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	Transaction   struct {
		ID string `json:"id"`
	} `json:"transaction"`
	SourceOfFunds struct {
		Type string `json:"type"`
	} `json:"sourceOfFunds"`
	PaymentMethod string `json:"paymentMethod"`
}

func (t MastercardTransaction) id() string {
	return firstNonEmpty(t.Transaction.ID, t.ID, t.TransactionID)
}

func (t MastercardTransaction) method() string {
	return firstNonEmpty(t.SourceOfFunds.Type, t.PaymentMethod)
}

// mastercardTransactions decodes either a list of transactions or a single object.
type mastercardTransactions []MastercardTransaction

func (m *mastercardTransactions) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*m = nil
	case b[0] == '[':
		var list []MastercardTransaction
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*m = list
	case b[0] == '{':
		var single MastercardTransaction
		if err := json.Unmarshal(b, &single); err != nil {
			return err
		}
		*m = mastercardTransactions{single}
	default:
		*m = nil
	}
	return nil
}

// MastercardOrder is the Retrieve Order response of Mastercard Hosted Checkout.
type MastercardOrder struct {
	Status string     `json:"status"`
	Result resultCode `json:"result"`
	Order  struct {
		Status string `json:"status"`
	} `json:"order"`
	Amount        decimal.NullDecimal    `json:"amount"`
	Currency      string                 `json:"currency"`
	Transaction   mastercardTransactions `json:"transaction"`
	Transactions  mastercardTransactions `json:"transactions"`
	PaymentMethod string                 `json:"payment_method"`
	SourceOfFunds struct {
		Type string `json:"type"`
	} `json:"sourceOfFunds"`
}

// latestTransaction returns the most recent entry; providers append it last.
func (o MastercardOrder) latestTransaction() (MastercardTransaction, bool) {
	list := o.Transactions
	if len(list) == 0 {
		list = o.Transaction
	}
	if len(list) == 0 {
		return MastercardTransaction{}, false
	}
	return list[len(list)-1], true
}

// NormalizeMastercard maps a Mastercard order onto the canonical model.
func NormalizeMastercard(o MastercardOrder) Normalized {
	raw := firstNonEmpty(o.Status, o.Order.Status, string(o.Result))
	keyword := strings.ToUpper(strings.TrimSpace(raw))

	n := Normalized{RawStatus: raw}
	switch {
	case has(mastercardSuccessStatuses, keyword):
		n.Status = StatusCompleted
	case containsAny(keyword, mastercardFailureMarkers):
		n.Status = StatusFailed
	case has(mastercardPendingStatuses, keyword):
		n.Status = StatusPending
	default:
		n.Status = StatusPending
	}

	n.PaymentMethod = firstNonEmpty(o.PaymentMethod, o.SourceOfFunds.Type)
	if txn, ok := o.latestTransaction(); ok {
		n.TransactionID = txn.id()
		if method := txn.method(); method != "" {
			n.PaymentMethod = method
		}
	}
	return n
}

// MPGSOrder is the legacy generic MPGS order payload.
type MPGSOrder struct {
	Result resultCode `json:"result"`
	Status string     `json:"status"`
	Order  struct {
		Status string `json:"status"`
	} `json:"order"`
	Amount   decimal.NullDecimal `json:"amount"`
	Currency string              `json:"currency"`
}

// NormalizeMPGS applies the result-code table, then lets an explicit order status override it.
func NormalizeMPGS(o MPGSOrder) Normalized {
	code := strings.ToUpper(strings.TrimSpace(string(o.Result)))
	n := Normalized{Status: StatusPending, RawStatus: string(o.Result)}

	switch {
	case hasAnyPrefix(code, mpgsSuccessPrefixes):
		n.Status = StatusCompleted
	case containsAny(code, mpgsPendingMarkers) || hasAnyPrefix(code, mpgsPendingPrefixes):
		n.Status = StatusPending
	case code != "":
		n.Status = StatusFailed
	}

	orderStatus := firstNonEmpty(o.Status, o.Order.Status)
	if orderStatus != "" {
		n.RawStatus = orderStatus
		upper := strings.ToUpper(orderStatus)
		switch {
		case containsAny(upper, mpgsOrderSuccessMarkers):
			n.Status = StatusCompleted
		case containsAny(upper, mpgsOrderPendingMarkers):
			n.Status = StatusPending
		case containsAny(upper, mpgsOrderFailureMarkers):
			n.Status = StatusFailed
		}
	}
	return n
}

// HyperPayPayment is the payment-status payload of a HyperPay checkout.
type HyperPayPayment struct {
	ID     string `json:"id"`
	Result struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"result"`
	Amount       decimal.NullDecimal `json:"amount"`
	Currency     string              `json:"currency"`
	PaymentBrand string              `json:"paymentBrand"`
	PaymentType  string              `json:"paymentType"`
}

// NormalizeHyperPayCopyPay maps Copy&Pay result codes; an empty code is still pending.
func NormalizeHyperPayCopyPay(p HyperPayPayment) Normalized {
	code := strings.TrimSpace(p.Result.Code)
	n := Normalized{RawStatus: code, PaymentMethod: p.PaymentBrand, TransactionID: p.ID}
	switch {
	case code == "":
		n.Status = StatusPending
	case hasAnyPrefix(code, hyperPayCopyPaySuccessPrefixes):
		n.Status = StatusCompleted
	case hasAnyPrefix(code, hyperPayCopyPayPendingPrefixes):
		n.Status = StatusPending
	default:
		n.Status = StatusFailed
	}
	return n
}

// NormalizeHyperPayClassic maps classic HyperPay result codes; any present but unmatched code fails.
func NormalizeHyperPayClassic(p HyperPayPayment) Normalized {
	code := strings.TrimSpace(p.Result.Code)
	n := Normalized{RawStatus: code, PaymentMethod: p.PaymentBrand, TransactionID: p.ID}
	switch {
	case code == "":
		n.Status = StatusPending
	case hasAnyPrefix(code, hyperPayClassicSuccessPrefixes):
		n.Status = StatusCompleted
	case hasAnyPrefix(code, hyperPayClassicPendingPrefixes):
		n.Status = StatusPending
	default:
		n.Status = StatusFailed
	}
	return n
}

// TapCharge is the Tap Payments charge object.
type TapCharge struct {
	ID       string              `json:"id"`
	Status   string              `json:"status"`
	Amount   decimal.NullDecimal `json:"amount"`
	Currency string              `json:"currency"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Source struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		PaymentMethod string `json:"payment_method"`
	} `json:"source"`
	Transaction struct {
		URL     string      `json:"url"`
		Created json.Number `json:"created"`
		Expiry  struct {
			Period int    `json:"period"`
			Type   string `json:"type"`
		} `json:"expiry"`
	} `json:"transaction"`
}

// NormalizeTap maps a Tap charge status.
func NormalizeTap(c TapCharge) Normalized {
	status := strings.ToUpper(strings.TrimSpace(c.Status))
	n := Normalized{
		RawStatus:     c.Status,
		PaymentMethod: firstNonEmpty(c.Source.PaymentMethod, c.Source.Type),
		TransactionID: c.ID,
	}
	switch {
	case has(tapSuccessStatuses, status):
		n.Status = StatusCompleted
	case has(tapPendingStatuses, status):
		n.Status = StatusPending
	default:
		n.Status = StatusFailed
	}
	return n
}

// CoinPaymentsTxInfo is the flattened get_tx_info result.
type CoinPaymentsTxInfo struct {
	Error          string              `json:"error"`
	Status         int                 `json:"status"`
	StatusText     string              `json:"status_text"`
	Coin           string              `json:"coin"`
	Amountf        decimal.NullDecimal `json:"amountf"`
	Receivedf      decimal.NullDecimal `json:"receivedf"`
	PaymentAddress string              `json:"payment_address"`
}

// NormalizeCoinPayments maps CoinPayments status text. Anything other than the
// waiting and cancelled texts is treated as paid.
func NormalizeCoinPayments(info CoinPaymentsTxInfo) Normalized {
	n := Normalized{RawStatus: info.StatusText, PaymentMethod: info.Coin}
	switch info.StatusText {
	case coinPaymentsWaiting:
		n.Status = StatusPending
	case coinPaymentsCancelled:
		n.Status = StatusFailed
	default:
		n.Status = StatusCompleted
	}
	return n
}

func stringSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, value string) bool {
	_, ok := set[value]
	return ok
}

func containsAny(value string, markers []string) bool {
	if value == "" {
		return false
	}
	for _, m := range markers {
		if strings.Contains(value, m) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(value string, prefixes []string) bool {
	if value == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
