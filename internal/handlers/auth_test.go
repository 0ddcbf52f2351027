package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/esimpay/internal/middleware"
	"github.com/example/esimpay/internal/models"
	"github.com/example/esimpay/internal/services"
	"github.com/example/esimpay/internal/utils"
)

type fakeOperatorStore struct {
	mu        sync.Mutex
	operators map[string]*models.Operator
	touched   []uuid.UUID
}

func (s *fakeOperatorStore) FindByUsername(_ context.Context, username string) (*models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[username]
	if !ok {
		return nil, services.ErrOperatorNotFound
	}
	cp := *op
	return &cp, nil
}

func (s *fakeOperatorStore) TouchLogin(_ context.Context, id uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func newAuthApp(t *testing.T) (*fiber.App, *fakeOperatorStore, *models.Operator) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost)
	require.NoError(t, err)

	op := &models.Operator{Username: "ops", PasswordHash: string(hash)}
	op.ID = uuid.New()
	store := &fakeOperatorStore{operators: map[string]*models.Operator{"ops": op}}

	h := NewAuthHandler(store, testSecret, 2*time.Hour, nil)
	app := fiber.New()
	app.Post("/api/auth/login", h.Login)
	app.Get("/api/auth/me", middleware.OperatorAuth(testSecret), h.Me)
	return app, store, op
}

func TestLogin(t *testing.T) {
	t.Run("issues a token", func(t *testing.T) {
		app, store, op := newAuthApp(t)
		code, body := doRequest(t, app, http.MethodPost, "/api/auth/login",
			map[string]any{"username": " ops ", "password": "correct horse battery"}, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["success"])

		token, _ := body["token"].(string)
		claims, err := utils.ParseToken(testSecret, token)
		require.NoError(t, err)
		assert.Equal(t, op.ID.String(), claims.OperatorID)
		assert.Equal(t, "ops", claims.Username)
		assert.Equal(t, []uuid.UUID{op.ID}, store.touched)

		code, me := doRequest(t, app, http.MethodGet, "/api/auth/me", nil, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ops", me["operator"].(map[string]any)["username"])
	})

	t.Run("wrong password", func(t *testing.T) {
		app, store, _ := newAuthApp(t)
		code, _ := doRequest(t, app, http.MethodPost, "/api/auth/login",
			map[string]any{"username": "ops", "password": "nope"}, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Empty(t, store.touched)
	})

	t.Run("unknown operator", func(t *testing.T) {
		app, _, _ := newAuthApp(t)
		code, _ := doRequest(t, app, http.MethodPost, "/api/auth/login",
			map[string]any{"username": "ghost", "password": "correct horse battery"}, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("missing fields", func(t *testing.T) {
		app, _, _ := newAuthApp(t)
		code, _ := doRequest(t, app, http.MethodPost, "/api/auth/login", map[string]any{"username": "ops"}, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("me without token", func(t *testing.T) {
		app, _, _ := newAuthApp(t)
		code, _ := doRequest(t, app, http.MethodGet, "/api/auth/me", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})
}

type fakeStats struct {
	since time.Time
}

func (s *fakeStats) Stats(_ context.Context, since time.Time) (*services.PaymentStats, error) {
	s.since = since
	return &services.PaymentStats{
		ByStatus:       map[string]int64{models.PaymentStatusPending: 3, models.PaymentStatusCompleted: 5},
		ByGateway:      map[string]int64{services.GatewayTap: 8},
		CompletedTotal: map[string]decimal.Decimal{"SAR": decimal.RequireFromString("1234.5")},
		PendingInSweep: 2,
	}, nil
}

func TestDashboardStats(t *testing.T) {
	stats := &fakeStats{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewAdminHandler(stats, 48*time.Hour, clockz.NewFakeClockAt(now))
	app := fiber.New()
	app.Get("/api/admin/stats", middleware.OperatorAuth(testSecret), h.DashboardStats)

	code, _ := doRequest(t, app, http.MethodGet, "/api/admin/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := doRequest(t, app, http.MethodGet, "/api/admin/stats", nil, bearer(t))
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(5), data["payments_by_status"].(map[string]any)[models.PaymentStatusCompleted])
	assert.Equal(t, "1234.50", data["completed_volume"].(map[string]any)["SAR"])
	assert.Equal(t, float64(2), data["pending_in_sweep"])
	assert.Equal(t, now.Add(-48*time.Hour), stats.since)
}
