package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	cases := map[string]string{
		"0":          "0.00 USD",
		"5":          "5.00 USD",
		"1234.5":     "1,234.50 USD",
		"999999.999": "1,000,000.00 USD",
		"-1234":      "-1,234.00 USD",
	}
	for raw, want := range cases {
		assert.Equal(t, want, FormatPrice(decimal.RequireFromString(raw), ""), raw)
	}
	assert.Equal(t, "37.50 SAR", FormatPrice(decimal.RequireFromString("37.5"), "SAR"))
}

func TestTelegramNotifications(t *testing.T) {
	srv := newGatewayServer(t, http.StatusOK, `{"ok":true}`)
	tg := NewTelegramService("bot-token", "42")
	tg.apiBase = srv.URL

	paid := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := tg.NotifyPaymentCompleted(context.Background(), PaymentEvent{
		RefID:         "order-1",
		Gateway:       GatewayTap,
		Amount:        decimal.RequireFromString("1500"),
		Currency:      "SAR",
		PaymentMethod: "VISA",
		DatePaid:      &paid,
	})
	require.NoError(t, err)

	req := srv.last(t)
	assert.Equal(t, "/botbot-token/sendMessage", req.Path)
	var msg telegramMessage
	require.NoError(t, json.Unmarshal(req.Body, &msg))
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.Contains(t, msg.Text, "PAYMENT COMPLETED")
	assert.Contains(t, msg.Text, "order-1")
	assert.Contains(t, msg.Text, "1,500.00 SAR")
	assert.Contains(t, msg.Text, "<b>Transaction:</b> -")
	assert.Contains(t, msg.Text, "2026-03-01T12:00:00Z")

	require.NoError(t, tg.NotifyPaymentFailed(context.Background(), PaymentEvent{RefID: "order-2", Gateway: GatewayTap}))
	require.NoError(t, json.Unmarshal(srv.last(t).Body, &msg))
	assert.Contains(t, msg.Text, "PAYMENT FAILED")
	assert.Contains(t, msg.Text, "order-2")
}

func TestTelegramUnconfigured(t *testing.T) {
	srv := newGatewayServer(t, http.StatusOK, `{"ok":true}`)

	noChat := NewTelegramService("bot-token", "")
	noChat.apiBase = srv.URL
	assert.NoError(t, noChat.NotifyPaymentCompleted(context.Background(), PaymentEvent{RefID: "x"}))

	noToken := NewTelegramService("", "42")
	noToken.apiBase = srv.URL
	assert.NoError(t, noToken.SendToAdmin(context.Background(), "hello"))

	assert.Equal(t, 0, srv.count())
}

func TestTelegramErrorStatus(t *testing.T) {
	srv := newGatewayServer(t, http.StatusUnauthorized, `{"ok":false}`)
	tg := NewTelegramService("bad", "42")
	tg.apiBase = srv.URL
	assert.ErrorContains(t, tg.SendToAdmin(context.Background(), "hello"), "401")
}

func TestTelegramSubscribe(t *testing.T) {
	srv := newGatewayServer(t, http.StatusOK, `{"ok":true}`)
	tg := NewTelegramService("bot-token", "42")
	tg.apiBase = srv.URL

	events := NewPaymentEvents()
	t.Cleanup(func() { _ = events.Close() })
	require.NoError(t, tg.Subscribe(events))

	require.NoError(t, events.Emit(context.Background(), StatusFailed, PaymentEvent{RefID: "order-3"}))
	assert.Eventually(t, func() bool { return srv.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, events.Emit(context.Background(), StatusPending, PaymentEvent{RefID: "order-4"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.count())
}
