package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/example/esimpay/internal/models"
)

// ErrMissingOrderReference is returned when a callback carries no order reference.
var ErrMissingOrderReference = errors.New("missing order reference")

const (
	defaultSweepWindow  = 48 * time.Hour
	defaultSweepWorkers = 4
)

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock sets the clock used for date_paid and the sweep window.
func WithClock(clock clockz.Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSweepWindow sets how far back the pending sweep looks.
func WithSweepWindow(window time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if window > 0 {
			r.window = window
		}
	}
}

// WithSweepWorkers bounds how many payments a sweep checks at once.
func WithSweepWorkers(workers int) ReconcilerOption {
	return func(r *Reconciler) {
		if workers > 0 {
			r.workers = workers
		}
	}
}

// WithEvents attaches lifecycle hooks fired after each persisted transition.
func WithEvents(events *PaymentEvents) ReconcilerOption {
	return func(r *Reconciler) {
		r.events = events
	}
}

// Reconciler applies gateway status results to stored payments.
//
// Status only ever moves out of PENDING, and each write is a compare-and-swap
// on the status that was read, so two concurrent checks of one payment cannot
// both transition it.
type Reconciler struct {
	store    PaymentStore
	gateways *GatewayRegistry
	events   *PaymentEvents
	clock    clockz.Clock
	window   time.Duration
	workers  int
}

func NewReconciler(store PaymentStore, gateways *GatewayRegistry, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:    store,
		gateways: gateways,
		clock:    clockz.RealClock,
		window:   defaultSweepWindow,
		workers:  defaultSweepWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window reports the configured sweep window.
func (r *Reconciler) Window() time.Duration { return r.window }

// ApplyStatus runs the transition policy for one status result and persists
// only the fields that changed. ERROR results are recorded but never applied.
// When another writer changed the payment first, the stored state is returned.
func (r *Reconciler) ApplyStatus(ctx context.Context, payment *models.Payment, result StatusResult, kind string) (*models.Payment, error) {
	r.recordEvent(ctx, payment, result, kind)

	if result.Status == StatusError {
		log.Printf("[Reconcile] %s %s: status unavailable: %s", payment.PaymentGateway, payment.RefID, result.Message)
		return payment, nil
	}

	current := payment.Status
	next := current
	fields := map[string]any{}
	var paidAt *time.Time

	switch result.Status {
	case StatusCompleted:
		if current == models.PaymentStatusPending {
			next = models.PaymentStatusCompleted
			fields["status"] = next
			if payment.DatePaid == nil {
				now := r.clock.Now().UTC()
				paidAt = &now
				fields["date_paid"] = now
			}
		} else if current == models.PaymentStatusFailed {
			log.Printf("[Reconcile] %s %s: gateway reports %s for a failed payment, left unchanged",
				payment.PaymentGateway, payment.RefID, result.RawStatus)
		}
	case StatusFailed:
		if current == models.PaymentStatusPending {
			next = models.PaymentStatusFailed
			fields["status"] = next
		}
	}

	// Identifiers are only taken from a result that agrees with the final state,
	// so a declined retry cannot overwrite the method of a completed payment.
	agrees := string(result.Status) == next
	if agrees && result.PaymentMethod != "" && result.PaymentMethod != payment.PaymentMethod {
		fields["payment_method"] = result.PaymentMethod
	}
	if agrees && next != models.PaymentStatusPending &&
		result.TransactionID != "" && result.TransactionID != payment.GatewayTransactionID {
		fields["gateway_transaction_id"] = result.TransactionID
	}

	if len(fields) == 0 {
		return payment, nil
	}

	if err := r.store.UpdateFields(ctx, payment.ID, current, fields); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			log.Printf("[Reconcile] %s changed concurrently, reloading", payment.RefID)
			return r.store.FindByRef(ctx, payment.RefID)
		}
		return nil, fmt.Errorf("update payment %s: %w", payment.RefID, err)
	}

	updated := *payment
	updated.Status = next
	if paidAt != nil {
		updated.DatePaid = paidAt
	}
	if v, ok := fields["payment_method"].(string); ok {
		updated.PaymentMethod = v
	}
	if v, ok := fields["gateway_transaction_id"].(string); ok {
		updated.GatewayTransactionID = v
	}

	if next != current {
		log.Printf("[Reconcile] %s %s: %s -> %s", updated.PaymentGateway, updated.RefID, current, next)
		r.emit(ctx, &updated)
	}
	return &updated, nil
}

func (r *Reconciler) emit(ctx context.Context, payment *models.Payment) {
	event := PaymentEvent{
		RefID:         payment.RefID,
		Gateway:       payment.PaymentGateway,
		Status:        payment.Status,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		TransactionID: payment.GatewayTransactionID,
		PaymentMethod: payment.PaymentMethod,
		DatePaid:      payment.DatePaid,
	}
	if err := r.events.Emit(context.WithoutCancel(ctx), Status(payment.Status), event); err != nil {
		log.Printf("[Reconcile] event for %s not delivered: %v", payment.RefID, err)
	}
}

func (r *Reconciler) recordEvent(ctx context.Context, payment *models.Payment, result StatusResult, kind string) {
	event := &models.PaymentGatewayEvent{
		PaymentID:       payment.ID,
		Gateway:         payment.PaymentGateway,
		Kind:            kind,
		CanonicalStatus: string(result.Status),
		RawStatus:       result.RawStatus,
		Message:         result.Message,
	}
	if len(result.Raw) > 0 && json.Valid(result.Raw) {
		event.Payload = datatypes.JSON(result.Raw)
	}
	if err := r.store.RecordEvent(ctx, event); err != nil {
		log.Printf("[Reconcile] failed to record %s event for %s: %v", kind, payment.RefID, err)
	}
}

// CheckOutcome is the result of a single-payment status check.
type CheckOutcome struct {
	Payment *models.Payment
	Result  StatusResult
}

// CheckPayment fetches the live status of one payment and applies it.
func (r *Reconciler) CheckPayment(ctx context.Context, refID string) (*CheckOutcome, error) {
	payment, err := r.store.FindByRef(ctx, refID)
	if err != nil {
		return nil, err
	}
	return r.check(ctx, payment)
}

func (r *Reconciler) check(ctx context.Context, payment *models.Payment) (*CheckOutcome, error) {
	gateway, err := r.gateways.Get(payment.PaymentGateway)
	if err != nil {
		return nil, err
	}

	result := gateway.FetchStatus(ctx, payment)
	updated, err := r.ApplyStatus(ctx, payment, result, models.GatewayEventStatusCheck)
	if err != nil {
		return nil, err
	}
	return &CheckOutcome{Payment: updated, Result: result}, nil
}

// CallbackParams are the values Mastercard Hosted Checkout echoes on the browser redirect.
type CallbackParams struct {
	OrderID         string
	SessionID       string
	ResultIndicator string
}

// CallbackOutcome describes how a browser redirect was resolved.
// IndicatorMatched is nil when the redirect carried no result indicator, and
// Gateway is nil when the check failed closed without a live status call.
type CallbackOutcome struct {
	Payment          *models.Payment
	IndicatorMatched *bool
	Gateway          *StatusResult
	Message          string
}

// Verified reports whether the redirect ended in a completed payment.
func (o *CallbackOutcome) Verified() bool {
	return o.Payment.Status == models.PaymentStatusCompleted
}

// Rejected reports whether the redirect failed verification.
func (o *CallbackOutcome) Rejected() bool {
	return (o.IndicatorMatched != nil && !*o.IndicatorMatched) || o.Payment.Status == models.PaymentStatusFailed
}

// HandleMastercardCallback verifies a Hosted Checkout redirect. A result
// indicator that differs from the one stored at session creation fails the
// payment without asking the gateway.
func (r *Reconciler) HandleMastercardCallback(ctx context.Context, params CallbackParams) (*CallbackOutcome, error) {
	if params.OrderID == "" {
		return nil, ErrMissingOrderReference
	}

	payment, err := r.store.FindByRef(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}

	var matched *bool
	if params.ResultIndicator != "" {
		ok := payment.MPGSSuccessIndicator == "" || params.ResultIndicator == payment.MPGSSuccessIndicator
		matched = &ok
	}

	outcome := &CallbackOutcome{IndicatorMatched: matched}
	if matched != nil && !*matched {
		log.Printf("[Mastercard] result indicator mismatch for %s", payment.RefID)
		mismatch := StatusResult{
			Normalized: Normalized{Status: StatusFailed, RawStatus: "INDICATOR_MISMATCH"},
			Message:    "result indicator did not match",
		}
		if payment, err = r.ApplyStatus(ctx, payment, mismatch, models.GatewayEventCallback); err != nil {
			return nil, err
		}
	} else {
		if payment, err = r.storeCallbackSession(ctx, payment, params.SessionID); err != nil {
			return nil, err
		}
		gateway, err := r.gateways.Get(GatewayMastercard)
		if err != nil {
			return nil, err
		}
		result := gateway.FetchStatus(ctx, payment)
		if payment, err = r.ApplyStatus(ctx, payment, result, models.GatewayEventCallback); err != nil {
			return nil, err
		}
		outcome.Gateway = &result
	}

	outcome.Payment = payment
	outcome.Message = callbackMessage(payment, matched)
	return outcome, nil
}

// storeCallbackSession keeps the session id echoed by a verified redirect.
// Other gateways poll by gateway_transaction_id, so only hosted checkout
// payments that are still PENDING take the value.
func (r *Reconciler) storeCallbackSession(ctx context.Context, payment *models.Payment, sessionID string) (*models.Payment, error) {
	if sessionID == "" || sessionID == payment.GatewayTransactionID ||
		payment.Status != models.PaymentStatusPending || !isHostedCheckout(payment.PaymentGateway) {
		return payment, nil
	}

	fields := map[string]any{"gateway_transaction_id": sessionID}
	switch err := r.store.UpdateFields(ctx, payment.ID, models.PaymentStatusPending, fields); {
	case err == nil:
		updated := *payment
		updated.GatewayTransactionID = sessionID
		return &updated, nil
	case errors.Is(err, ErrStatusConflict):
		return r.store.FindByRef(ctx, payment.RefID)
	default:
		return nil, fmt.Errorf("store session id for %s: %w", payment.RefID, err)
	}
}

func isHostedCheckout(gateway string) bool {
	return gateway == GatewayMastercard || gateway == GatewayHyperPayMPGS
}

func callbackMessage(payment *models.Payment, matched *bool) string {
	switch {
	case !isHostedCheckout(payment.PaymentGateway):
		return "Payment recorded, but gateway mismatch detected."
	case matched != nil && !*matched:
		return "Payment verification failed because the result indicator did not match."
	case payment.Status == models.PaymentStatusCompleted:
		return "Payment completed successfully."
	case payment.Status == models.PaymentStatusPending:
		return "Payment is pending confirmation."
	default:
		return "Payment verification failed."
	}
}

// SweepItem is one payment's line in a sweep report.
type SweepItem struct {
	RefID         string          `json:"ref_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Gateway       string          `json:"payment_gateway"`
	TransactionID string          `json:"transaction_id"`
	DatePaid      *time.Time      `json:"date_paid"`
	Error         string          `json:"error,omitempty"`
}

// SweepReport aggregates a batch sweep.
type SweepReport struct {
	Since   time.Time   `json:"since"`
	Checked int         `json:"checked"`
	Updated int         `json:"updated"`
	Errors  int         `json:"errors"`
	Items   []SweepItem `json:"updated_payments"`
}

// SweepPending checks every PENDING payment created inside the sweep window.
// A failure on one payment is reported on its item and never stops the others.
func (r *Reconciler) SweepPending(ctx context.Context) (*SweepReport, error) {
	since := r.clock.Now().UTC().Add(-r.window)
	pending, err := r.store.ListPendingSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}

	report := &SweepReport{Since: since, Checked: len(pending), Items: make([]SweepItem, len(pending))}
	if len(pending) == 0 {
		return report, nil
	}

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i := range pending {
		payment := &pending[i]
		g.Go(func() error {
			report.Items[i] = r.sweepOne(ctx, payment)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range report.Items {
		if item.Error != "" {
			report.Errors++
		}
		if item.Status != models.PaymentStatusPending {
			report.Updated++
		}
	}
	log.Printf("[Reconcile] sweep since %s: checked=%d updated=%d errors=%d",
		since.Format(time.RFC3339), report.Checked, report.Updated, report.Errors)
	return report, nil
}

func (r *Reconciler) sweepOne(ctx context.Context, payment *models.Payment) SweepItem {
	item := SweepItem{
		RefID:         payment.RefID,
		Status:        payment.Status,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Gateway:       payment.PaymentGateway,
		TransactionID: payment.GatewayTransactionID,
		DatePaid:      payment.DatePaid,
	}
	if err := ctx.Err(); err != nil {
		item.Error = err.Error()
		return item
	}

	outcome, err := r.check(ctx, payment)
	if err != nil {
		log.Printf("[Reconcile] %s: %v", payment.RefID, err)
		item.Error = err.Error()
		return item
	}

	item.Status = outcome.Payment.Status
	item.TransactionID = outcome.Payment.GatewayTransactionID
	item.DatePaid = outcome.Payment.DatePaid
	if outcome.Result.Status == StatusError {
		item.Error = outcome.Result.Message
	}
	return item
}
