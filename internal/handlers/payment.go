package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/esimpay/internal/models"
	"github.com/example/esimpay/internal/services"
	"github.com/example/esimpay/internal/utils"
)

// PaymentHandler exposes checkout, status and reconciliation endpoints.
type PaymentHandler struct {
	checkout   *services.CheckoutService
	reconciler *services.Reconciler
	store      services.PaymentStore
}

func NewPaymentHandler(checkout *services.CheckoutService, reconciler *services.Reconciler, store services.PaymentStore) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, reconciler: reconciler, store: store}
}

type createPaymentRequest struct {
	PaymentGateway string      `json:"payment_gateway"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	CustomerEmail  string      `json:"customer_email"`
	Description    string      `json:"description"`
	RefID          string      `json:"ref_id"`
}

// CreatePayment starts a checkout and stores the PENDING payment.
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.PaymentGateway == "" || req.Amount == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	payment, result, err := h.checkout.StartCheckout(c.UserContext(), req.PaymentGateway, services.CheckoutRequest{
		Amount:        req.Amount.String(),
		Currency:      req.Currency,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		ReferenceID:   req.RefID,
		Description:   req.Description,
	})
	if err != nil {
		var fxErr *services.FXConversionError
		switch {
		case errors.Is(err, services.ErrUnsupportedGateway):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "message": "Unsupported payment gateway."})
		case errors.As(err, &fxErr):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "message": fxErr.Error()})
		}
		log.Printf("[Payments] checkout failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create payment")
	}
	if !result.Status {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "message": result.Message})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  true,
		"message": "Payment created successfully.",
		"data":    paymentView(payment),
		"checkout": fiber.Map{
			"session_id":      result.SessionID,
			"session_version": result.SessionVersion,
			"checkout_url":    result.CheckoutURL,
			"payment_address": result.PaymentAddress,
			"order_amount":    result.OrderAmount.StringFixed(2),
			"order_currency":  result.OrderCurrency,
			"expires_at":      result.ExpiresAt,
		},
	})
}

// PaymentStatus checks one payment against its gateway and applies the result.
func (h *PaymentHandler) PaymentStatus(c *fiber.Ctx) error {
	outcome, err := h.reconciler.CheckPayment(c.UserContext(), c.Params("ref_id"))
	if err != nil {
		return paymentError(c, err)
	}

	if outcome.Result.Status == services.StatusError {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"status":  false,
			"message": outcome.Result.Message,
			"data":    paymentView(outcome.Payment),
		})
	}

	return c.JSON(fiber.Map{
		"status":  true,
		"message": "Payment status checked successfully.",
		"data":    paymentView(outcome.Payment),
	})
}

// MastercardCallback handles the Hosted Checkout browser redirect, GET or POST.
func (h *PaymentHandler) MastercardCallback(c *fiber.Ctx) error {
	lookup := callbackLookup(c)
	params := services.CallbackParams{
		OrderID:         lookup("orderId", "order_id", "order", "reference"),
		SessionID:       lookup("sessionId", "session_id", "session"),
		ResultIndicator: lookup("resultIndicator", "result_indicator"),
	}

	outcome, err := h.reconciler.HandleMastercardCallback(c.UserContext(), params)
	if err != nil {
		if errors.Is(err, services.ErrMissingOrderReference) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "message": "Missing order reference."})
		}
		return paymentError(c, err)
	}

	httpStatus := fiber.StatusOK
	switch {
	case outcome.Rejected():
		httpStatus = fiber.StatusBadRequest
	case outcome.Payment.Status == models.PaymentStatusPending:
		httpStatus = fiber.StatusAccepted
	}

	data := paymentView(outcome.Payment)
	data["indicator_matched"] = outcome.IndicatorMatched

	body := fiber.Map{
		"status":  outcome.Verified(),
		"message": outcome.Message,
		"data":    data,
	}
	if outcome.Gateway != nil {
		body["gateway_response"] = fiber.Map{
			"status":         outcome.Gateway.RawStatus,
			"payment_method": outcome.Gateway.PaymentMethod,
		}
	}
	return c.Status(httpStatus).JSON(body)
}

// UpdatePending runs the reconciliation sweep over recent PENDING payments.
func (h *PaymentHandler) UpdatePending(c *fiber.Ctx) error {
	report, err := h.reconciler.SweepPending(c.UserContext())
	if err != nil {
		log.Printf("[Payments] sweep failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to sweep pending payments")
	}

	if report.Checked == 0 {
		return c.JSON(fiber.Map{"status": true, "message": "No pending payments found."})
	}

	return c.JSON(fiber.Map{
		"status":           true,
		"message":          "Pending payments updated successfully.",
		"checked":          report.Checked,
		"updated":          report.Updated,
		"errors":           report.Errors,
		"updated_payments": report.Items,
	})
}

// ListPayments returns stored payments, newest first, optionally filtered by status.
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	status := strings.ToUpper(c.Query("status"))
	switch status {
	case "", models.PaymentStatusPending, models.PaymentStatusCompleted, models.PaymentStatusFailed:
	default:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
	}

	payments, total, err := h.store.ListPaged(c.UserContext(), status, pg.Offset, pg.Limit)
	if err != nil {
		return err
	}

	data := make([]fiber.Map, len(payments))
	for i := range payments {
		data[i] = paymentView(&payments[i])
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       data,
		"pagination": pg.Meta(total),
	})
}

func paymentView(p *models.Payment) fiber.Map {
	return fiber.Map{
		"ref_id":          p.RefID,
		"status":          p.Status,
		"amount":          p.Amount.StringFixed(2),
		"currency":        p.Currency,
		"date_created":    p.CreatedAt,
		"date_paid":       p.DatePaid,
		"expiry_datetime": p.ExpiryDatetime,
		"payment_gateway": p.PaymentGateway,
		"payment_method":  p.PaymentMethod,
		"payment_url":     p.PaymentURL,
		"transaction_id":  p.GatewayTransactionID,
	}
}

func paymentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrPaymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"status": false, "message": "Payment not found."})
	case errors.Is(err, services.ErrUnsupportedGateway):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "message": "Unsupported payment gateway."})
	}
	log.Printf("[Payments] %s %s: %v", c.Method(), c.Path(), err)
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}

// callbackLookup reads redirect parameters from the query string on GET and
// from the form or JSON body on POST, returning the first non-empty key.
func callbackLookup(c *fiber.Ctx) func(keys ...string) string {
	var jsonBody map[string]any
	if c.Method() == fiber.MethodPost && strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEApplicationJSON) {
		_ = json.Unmarshal(c.Body(), &jsonBody)
	}

	return func(keys ...string) string {
		for _, key := range keys {
			var value string
			switch {
			case c.Method() != fiber.MethodPost:
				value = c.Query(key)
			case jsonBody != nil:
				if v, ok := jsonBody[key]; ok && v != nil {
					value = fmt.Sprint(v)
				}
			default:
				value = c.FormValue(key)
			}
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
		return ""
	}
}
