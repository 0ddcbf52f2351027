package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService handles sending notifications to Telegram.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// FormatPrice formats an amount with two decimals, thousand separators and currency.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var result strings.Builder
	if amount.IsNegative() {
		result.WriteString("-")
	}
	length := len(whole)
	for i, digit := range whole {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + "." + frac + " " + currency
}

// NotifyPaymentCompleted tells the admin chat a payment was captured.
func (s *TelegramService) NotifyPaymentCompleted(ctx context.Context, event PaymentEvent) error {
	if s.adminChatID == "" {
		return nil
	}

	paidAt := "-"
	if event.DatePaid != nil {
		paidAt = event.DatePaid.UTC().Format(time.RFC3339)
	}

	message := fmt.Sprintf(`<b>✅ PAYMENT COMPLETED</b>
<b>Reference:</b> %s
<b>Gateway:</b> %s
<b>Amount:</b> %s
<b>Method:</b> %s
<b>Transaction:</b> %s
<b>Paid at:</b> %s`,
		event.RefID,
		event.Gateway,
		FormatPrice(event.Amount, event.Currency),
		orDash(event.PaymentMethod),
		orDash(event.TransactionID),
		paidAt,
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// NotifyPaymentFailed tells the admin chat a payment was declined or expired.
func (s *TelegramService) NotifyPaymentFailed(ctx context.Context, event PaymentEvent) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>❌ PAYMENT FAILED</b>
<b>Reference:</b> %s
<b>Gateway:</b> %s
<b>Amount:</b> %s`,
		event.RefID,
		event.Gateway,
		FormatPrice(event.Amount, event.Currency),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// Subscribe registers the admin notifications on the payment lifecycle hooks.
func (s *TelegramService) Subscribe(events *PaymentEvents) error {
	if _, err := events.OnCompleted(s.NotifyPaymentCompleted); err != nil {
		return err
	}
	_, err := events.OnFailed(s.NotifyPaymentFailed)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
