package handlers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zoobzio/clockz"

	"github.com/example/esimpay/internal/middleware"
	"github.com/example/esimpay/internal/services"
	"github.com/example/esimpay/internal/utils"
)

// AuthHandler bundles dependencies for operator authentication.
type AuthHandler struct {
	operators services.OperatorStore
	secret    string
	ttl       time.Duration
	clock     clockz.Clock
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(operators services.OperatorStore, secret string, ttl time.Duration, clock clockz.Clock) *AuthHandler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &AuthHandler{operators: operators, secret: secret, ttl: ttl, clock: clock}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an operator and issues a bearer token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	operator, err := h.operators.FindByUsername(c.UserContext(), req.Username)
	if err != nil {
		if errors.Is(err, services.ErrOperatorNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !utils.CheckPassword(operator.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	now := h.clock.Now().UTC()
	token, err := utils.GenerateToken(h.secret, operator.ID, operator.Username, now, h.ttl)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	if err := h.operators.TouchLogin(c.UserContext(), operator.ID, now); err != nil {
		log.Printf("[Auth] failed to record login for %s: %v", operator.Username, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"operator": fiber.Map{
			"id":       operator.ID,
			"username": operator.Username,
		},
		"token":      token,
		"expires_at": now.Add(h.ttl),
	})
}

// Me returns the operator behind the current token.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	claims, ok := middleware.CurrentOperator(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"operator": fiber.Map{
			"id":       claims.OperatorID,
			"username": claims.Username,
		},
	})
}
