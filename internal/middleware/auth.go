package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/esimpay/internal/utils"
)

const operatorContextKey = "currentOperator"

// OperatorAuth validates operator JWTs and loads the claims into context.
func OperatorAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		claims, err := utils.ParseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(operatorContextKey, claims)
		return c.Next()
	}
}

// CurrentOperator extracts the authenticated operator from context.
func CurrentOperator(c *fiber.Ctx) (*utils.OperatorClaims, bool) {
	claims, ok := c.Locals(operatorContextKey).(*utils.OperatorClaims)
	return claims, ok && claims != nil
}
