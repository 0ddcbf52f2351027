package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/models"
)

// testNow is the instant every fake clock in this package starts at.
var testNow = time.Now().UTC().Truncate(time.Second)

func fixedClock() *clockz.FakeClock {
	return clockz.NewFakeClockAt(testNow)
}

// memoryStore is an in-memory PaymentStore with the same compare-and-swap
// semantics as the gorm store. beforeUpdate runs once inside UpdateFields,
// ahead of the status check, to simulate a concurrent writer.
type memoryStore struct {
	mu           sync.Mutex
	payments     map[string]*models.Payment
	events       []models.PaymentGatewayEvent
	updates      []map[string]any
	beforeUpdate func(p *models.Payment)
	updateErr    error
}

func newMemoryStore(payments ...*models.Payment) *memoryStore {
	s := &memoryStore{payments: map[string]*models.Payment{}}
	for _, p := range payments {
		_ = s.Create(context.Background(), p)
	}
	return s
}

func (s *memoryStore) Create(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	cp := *payment
	s.payments[payment.RefID] = &cp
	return nil
}

func (s *memoryStore) FindByRef(_ context.Context, refID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[refID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) ListPendingSince(_ context.Context, since time.Time) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && !p.CreatedAt.Before(since) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RefID < out[j].RefID })
	return out, nil
}

func (s *memoryStore) ListPaged(_ context.Context, status string, offset, limit int) ([]models.Payment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Payment
	for _, p := range s.payments {
		if status == "" || p.Status == status {
			all = append(all, *p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RefID < all[j].RefID })
	total := int64(len(all))
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memoryStore) UpdateFields(_ context.Context, id uuid.UUID, expectedStatus string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	var target *models.Payment
	for _, p := range s.payments {
		if p.ID == id {
			target = p
		}
	}
	if target == nil {
		return ErrStatusConflict
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(target)
		s.beforeUpdate = nil
	}
	if target.Status != expectedStatus {
		return ErrStatusConflict
	}

	copied := map[string]any{}
	for k, v := range fields {
		copied[k] = v
		switch k {
		case "status":
			target.Status = v.(string)
		case "date_paid":
			t := v.(time.Time)
			target.DatePaid = &t
		case "payment_method":
			target.PaymentMethod = v.(string)
		case "gateway_transaction_id":
			target.GatewayTransactionID = v.(string)
		}
	}
	s.updates = append(s.updates, copied)
	return nil
}

func (s *memoryStore) RecordEvent(_ context.Context, event *models.PaymentGatewayEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memoryStore) get(refID string) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[refID]
}

// stubGateway returns canned results and counts status fetches.
type stubGateway struct {
	mu       sync.Mutex
	name     string
	checkout CheckoutResult
	results  map[string]StatusResult
	fallback StatusResult
	fetched  []string
}

func newStubGateway(name string) *stubGateway {
	return &stubGateway{name: name, results: map[string]StatusResult{}}
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) InitiateCheckout(_ context.Context, _ CheckoutRequest) CheckoutResult {
	return g.checkout
}

func (g *stubGateway) FetchStatus(_ context.Context, payment *models.Payment) StatusResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetched = append(g.fetched, payment.RefID)
	if r, ok := g.results[payment.RefID]; ok {
		return r
	}
	return g.fallback
}

func (g *stubGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fetched)
}

func completed(method, txn string) StatusResult {
	return StatusResult{Normalized: Normalized{Status: StatusCompleted, RawStatus: "CAPTURED", PaymentMethod: method, TransactionID: txn}}
}

func failed() StatusResult {
	return StatusResult{Normalized: Normalized{Status: StatusFailed, RawStatus: "DECLINED"}}
}

func pending() StatusResult {
	return StatusResult{Normalized: Normalized{Status: StatusPending, RawStatus: "INITIATED"}}
}

func pendingPayment(refID, gateway string, created time.Time) *models.Payment {
	p := &models.Payment{
		RefID:          refID,
		PaymentGateway: gateway,
		Status:         models.PaymentStatusPending,
		Currency:       "USD",
	}
	p.CreatedAt = created
	return p
}
