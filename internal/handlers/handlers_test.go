package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/esimpay/internal/middleware"
	"github.com/example/esimpay/internal/models"
	"github.com/example/esimpay/internal/services"
	"github.com/example/esimpay/internal/utils"
)

const testSecret = "test-secret"

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
}

func newFakePaymentStore(payments ...*models.Payment) *fakePaymentStore {
	s := &fakePaymentStore{payments: map[string]*models.Payment{}}
	for _, p := range payments {
		_ = s.Create(context.Background(), p)
	}
	return s
}

func (s *fakePaymentStore) Create(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	s.payments[p.RefID] = &cp
	return nil
}

func (s *fakePaymentStore) FindByRef(_ context.Context, refID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[refID]
	if !ok {
		return nil, services.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePaymentStore) ListPendingSince(_ context.Context, since time.Time) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && !p.CreatedAt.Before(since) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakePaymentStore) ListPaged(_ context.Context, status string, offset, limit int) ([]models.Payment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *fakePaymentStore) UpdateFields(_ context.Context, id uuid.UUID, expectedStatus string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID != id {
			continue
		}
		if p.Status != expectedStatus {
			return services.ErrStatusConflict
		}
		if v, ok := fields["status"].(string); ok {
			p.Status = v
		}
		if v, ok := fields["date_paid"].(time.Time); ok {
			p.DatePaid = &v
		}
		if v, ok := fields["payment_method"].(string); ok {
			p.PaymentMethod = v
		}
		if v, ok := fields["gateway_transaction_id"].(string); ok {
			p.GatewayTransactionID = v
		}
		return nil
	}
	return services.ErrStatusConflict
}

func (s *fakePaymentStore) RecordEvent(context.Context, *models.PaymentGatewayEvent) error {
	return nil
}

// fakeGateway answers every call with the configured result.
type fakeGateway struct {
	name     string
	checkout services.CheckoutResult
	status   services.StatusResult
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) InitiateCheckout(context.Context, services.CheckoutRequest) services.CheckoutResult {
	return g.checkout
}

func (g *fakeGateway) FetchStatus(context.Context, *models.Payment) services.StatusResult {
	return g.status
}

func statusOf(status services.Status, raw, method string) services.StatusResult {
	return services.StatusResult{Normalized: services.Normalized{Status: status, RawStatus: raw, PaymentMethod: method}}
}

type paymentFixture struct {
	app   *fiber.App
	store *fakePaymentStore
}

// newPaymentFixture mounts the payment endpoints the same way the router does.
func newPaymentFixture(t *testing.T, store *fakePaymentStore, gateways ...services.Gateway) *paymentFixture {
	t.Helper()
	registry := services.NewGatewayRegistry()
	for _, g := range gateways {
		registry.Register(g)
	}
	reconciler := services.NewReconciler(store, registry)
	h := NewPaymentHandler(services.NewCheckoutService(store, registry), reconciler, store)

	app := fiber.New()
	payments := app.Group("/api/payments")
	payments.Post("/", h.CreatePayment)
	payments.Get("/status/:ref_id", h.PaymentStatus)
	payments.Get("/mastercard/callback", h.MastercardCallback)
	payments.Post("/mastercard/callback", h.MastercardCallback)
	operator := middleware.OperatorAuth(testSecret)
	payments.Get("/update-pending", operator, h.UpdatePending)
	payments.Get("/", operator, h.ListPayments)

	return &paymentFixture{app: app, store: store}
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := utils.GenerateToken(testSecret, uuid.New(), "operator", time.Now(), time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
		contentType = fiber.MIMEApplicationForm
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
		contentType = fiber.MIMEApplicationJSON
	}

	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 && json.Valid(raw) {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func bearer(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + operatorToken(t)}
}
