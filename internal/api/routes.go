package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/service"
)

type Config struct {
	SecretKey string
	Scheduler service.SchedulerService
	ApiKeys   service.ApiKeyService
	Checks    map[string]handlers.Check
	Log       *zap.Logger
}

func NewApp(cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code == fiber.StatusInternalServerError {
				cfg.Log.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())

	health := handlers.NewHealthHandler(cfg.Checks)
	app.Get("/healthz", health.Health)

	authMiddleware := middleware.NewAuthMiddleware(cfg.SecretKey, cfg.ApiKeys, cfg.Log)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(cfg.Scheduler, cfg.Log)
	api.Post("/posts/:id/schedule", post.SchedulePost)
	api.Post("/posts/:id/reschedule", post.ReschedulePost)
	api.Post("/posts/:id/cancel", post.CancelPost)
	api.Post("/posts/:id/publish", post.PublishNow)
	api.Get("/posts/:id/job", post.JobInfo)

	q := handlers.NewQueueHandler(cfg.Scheduler, cfg.Log)
	api.Get("/queue/stats", q.Stats)

	if cfg.ApiKeys != nil {
		apiKeys := handlers.NewApiKeyHandler(cfg.ApiKeys)
		api.Post("/api_key/new", apiKeys.CreateApiKey)
		api.Get("/api_key/list", apiKeys.ListKeys)
		api.Post("/api_key/remove", apiKeys.RemoveAPIKey)
	}

	return app
}
