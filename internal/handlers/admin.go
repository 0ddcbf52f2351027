package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/services"
)

// StatsSource aggregates stored payments.
type StatsSource interface {
	Stats(ctx context.Context, sweepSince time.Time) (*services.PaymentStats, error)
}

// AdminHandler manages operator dashboard endpoints.
type AdminHandler struct {
	stats  StatsSource
	window time.Duration
	clock  clockz.Clock
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(stats StatsSource, window time.Duration, clock clockz.Clock) *AdminHandler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &AdminHandler{stats: stats, window: window, clock: clock}
}

// DashboardStats returns payment counts per status and gateway, completed
// volume per currency, and how many payments the next sweep will check.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	since := h.clock.Now().UTC().Add(-h.window)
	stats, err := h.stats.Stats(c.UserContext(), since)
	if err != nil {
		return err
	}

	completed := make(fiber.Map, len(stats.CompletedTotal))
	for currency, total := range stats.CompletedTotal {
		completed[currency] = total.StringFixed(2)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"payments_by_status":  stats.ByStatus,
			"payments_by_gateway": stats.ByGateway,
			"completed_volume":    completed,
			"pending_in_sweep":    stats.PendingInSweep,
			"sweep_since":         since,
		},
	})
}
