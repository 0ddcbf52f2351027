package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/esimpay/internal/app"
	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/database"
	"github.com/example/esimpay/internal/handlers"
	"github.com/example/esimpay/internal/routes"
)

func main() {
	cfg := config.Load()
	cfg.RequireJWT()
	db := database.Connect(cfg.DatabaseURL, cfg.DBPool)
	defer database.Close()

	svc, err := app.New(cfg, db)
	if err != nil {
		log.Fatalf("failed to build services: %v", err)
	}
	defer svc.Close()

	if err := svc.SeedOperator(context.Background()); err != nil {
		log.Printf("Operator seed failed: %v", err)
	}

	server := fiber.New(fiber.Config{
		AppName: "eSIM Payments",
	})

	server.Use(recover.New())
	server.Use(logger.New())

	routes.Register(server, routes.Handlers{
		Auth:      handlers.NewAuthHandler(svc.Operators, cfg.JWTSecret, cfg.TokenExpires, svc.Clock),
		Payments:  handlers.NewPaymentHandler(svc.Checkout, svc.Reconciler, svc.Payments),
		Admin:     handlers.NewAdminHandler(svc.Payments, cfg.Reconcile.Window, svc.Clock),
		JWTSecret: cfg.JWTSecret,
	})

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := server.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
