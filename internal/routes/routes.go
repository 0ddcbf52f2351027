package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/esimpay/internal/handlers"
	"github.com/example/esimpay/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Payments  *handlers.PaymentHandler
	Admin     *handlers.AdminHandler
	JWTSecret string
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, h Handlers) {
	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/login", h.Auth.Login)

	// Public payment routes
	payments := api.Group("/payments")
	payments.Post("/", h.Payments.CreatePayment)
	payments.Get("/status/:ref_id", h.Payments.PaymentStatus)
	payments.Get("/mastercard/callback", h.Payments.MastercardCallback)
	payments.Post("/mastercard/callback", h.Payments.MastercardCallback)

	// Operator routes
	operator := middleware.OperatorAuth(h.JWTSecret)

	api.Get("/auth/me", operator, h.Auth.Me)
	payments.Get("/update-pending", operator, h.Payments.UpdatePending)
	payments.Get("/", operator, h.Payments.ListPayments)

	admin := api.Group("/admin", operator)
	admin.Get("/stats", h.Admin.DashboardStats)
}
