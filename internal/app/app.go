// Package app wires configuration, storage and gateways into the services
// shared by the HTTP server and the reconcile CLI.
package app

import (
	"context"
	"log"

	"github.com/zoobzio/clockz"
	"gorm.io/gorm"

	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/services"
	"github.com/example/esimpay/internal/utils"
)

// App holds the long-lived services of one process.
type App struct {
	Config     *config.Config
	Clock      clockz.Clock
	Payments   *services.GormPaymentStore
	Operators  *services.GormOperatorStore
	Gateways   *services.GatewayRegistry
	Checkout   *services.CheckoutService
	Reconciler *services.Reconciler
	Events     *services.PaymentEvents
}

// New builds the service graph on top of an open database.
func New(cfg *config.Config, db *gorm.DB) (*App, error) {
	clock := clockz.RealClock
	converter := services.NewCurrencyConverter(cfg.FX, cfg.GatewayTimeout)
	gateways := services.BuildGatewayRegistry(cfg, converter, clock)
	payments := services.NewGormPaymentStore(db)

	events := services.NewPaymentEvents()
	telegram := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.AdminChat)
	if err := telegram.Subscribe(events); err != nil {
		events.Close()
		return nil, err
	}

	reconciler := services.NewReconciler(payments, gateways,
		services.WithClock(clock),
		services.WithSweepWindow(cfg.Reconcile.Window),
		services.WithSweepWorkers(cfg.Reconcile.Workers),
		services.WithEvents(events),
	)

	return &App{
		Config:     cfg,
		Clock:      clock,
		Payments:   payments,
		Operators:  services.NewGormOperatorStore(db),
		Gateways:   gateways,
		Checkout:   services.NewCheckoutService(payments, gateways),
		Reconciler: reconciler,
		Events:     events,
	}, nil
}

// SeedOperator makes sure the configured operator account exists with the configured hash.
func (a *App) SeedOperator(ctx context.Context) error {
	hash := a.Config.OperatorPasswordHash
	if hash == "" {
		log.Println("[App] OPERATOR_PASSWORD_HASH not set, operator login disabled")
		return nil
	}
	if !utils.IsBcryptHash(hash) {
		log.Println("[App] OPERATOR_PASSWORD_HASH is not a bcrypt hash, operator not seeded")
		return nil
	}
	return a.Operators.Upsert(ctx, a.Config.OperatorUsername, hash)
}

// Close stops the event workers, waiting for queued notifications.
func (a *App) Close() error {
	return a.Events.Close()
}
