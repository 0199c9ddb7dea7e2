package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/service"
)

type QueueHandler struct {
	s   service.SchedulerService
	log *zap.Logger
}

func NewQueueHandler(s service.SchedulerService, log *zap.Logger) *QueueHandler {
	return &QueueHandler{s: s, log: log}
}

func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.s.QueueStats(c.Context())
	if err != nil {
		h.log.Error("Failed to read queue stats", zap.Error(err))
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	status := fiber.StatusOK
	results := fiber.Map{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": statusText(status),
		"checks": results,
	})
}

func statusText(status int) string {
	if status == fiber.StatusOK {
		return "ok"
	}
	return "degraded"
}
