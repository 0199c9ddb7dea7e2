package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const HeaderAPIKey = "X-API-Key"

type AuthMiddleware struct {
	s         service.ApiKeyService
	secretKey string
	log       *zap.Logger
}

func NewAuthMiddleware(secretKey string, keys service.ApiKeyService, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{s: keys, secretKey: secretKey, log: log}
}

// AuthMiddleware accepts an API key or a bearer token signed with the service secret.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get(HeaderAPIKey)
		tokenString, _ := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")

		if tokenString == "" && apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing API key or bearer token",
			})
		}

		if apiKey != "" {
			if m.s == nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "API keys are not enabled",
				})
			}
			key, err := m.s.Authenticate(c.Context(), apiKey)
			if err != nil {
				if !errors.Is(err, service.ErrApiKeyInvalid) {
					m.log.Error("API key lookup failed", zap.Error(err))
				}
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid API key",
				})
			}
			c.Locals("service", key.Name)
			return c.Next()
		}

		claims, err := utils.ValidateToken(m.secretKey, tokenString)
		if err != nil {
			m.log.Info("Token validation failed", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("service", claims.Service)
		return c.Next()
	}
}
