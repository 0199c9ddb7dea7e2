package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/service"
)

type PostHandler struct {
	s   service.SchedulerService
	log *zap.Logger
}

func NewPostHandler(s service.SchedulerService, log *zap.Logger) *PostHandler {
	return &PostHandler{s: s, log: log}
}

type rescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	postID, err := GetPostID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	post, err := h.s.SchedulePost(c.Context(), postID)
	if err != nil {
		h.logFailure("schedule", postID, err)
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) ReschedulePost(c *fiber.Ctx) error {
	postID, err := GetPostID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil || req.ScheduledAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduled_at must be an RFC 3339 timestamp",
		})
	}

	post, err := h.s.ReschedulePost(c.Context(), postID, req.ScheduledAt)
	if err != nil {
		h.logFailure("reschedule", postID, err)
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	postID, err := GetPostID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.s.CancelScheduledPost(c.Context(), postID); err != nil {
		h.logFailure("cancel", postID, err)
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post canceled",
	})
}

func (h *PostHandler) PublishNow(c *fiber.Ctx) error {
	postID, err := GetPostID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	post, err := h.s.PublishImmediately(c.Context(), postID)
	if err != nil {
		h.logFailure("publish", postID, err)
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(post)
}

func (h *PostHandler) JobInfo(c *fiber.Ctx) error {
	postID, err := GetPostID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	job, err := h.s.JobInfo(c.Context(), postID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(job)
}

func (h *PostHandler) logFailure(action string, postID int64, err error) {
	if statusFor(err) == fiber.StatusInternalServerError {
		h.log.Error("Post request failed", zap.String("action", action), zap.Int64("post_id", postID), zap.Error(err))
		return
	}
	h.log.Info("Post request rejected", zap.String("action", action), zap.Int64("post_id", postID), zap.Error(err))
}
