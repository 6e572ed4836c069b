package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"go.uber.org/zap"
)

type PostHandler struct {
	s      service.PostService
	qm     service.QueueManager
	logger *zap.Logger
}

func NewPostHandler(s service.PostService, qm service.QueueManager, logger *zap.Logger) *PostHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostHandler{s: s, qm: qm, logger: logger}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Info("unable to parse form", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	postID, err := h.s.CreatePost(c.Context(), workspaceID, &transfer.PostCreation{
		Caption:          c.FormValue("caption"),
		Title:            c.FormValue("title"),
		PostType:         c.FormValue("post_type"),
		SelectedAccounts: c.FormValue("selected_accounts"),
	}, form.File["files"])
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Post created successfully",
		"id":      postID,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)

	if postID := c.Query("id"); postID != "" {
		post, err := h.s.PostInfo(c.Context(), postID, workspaceID)
		if err != nil {
			return respondError(c, h.logger, err)
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), workspaceID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	if err := h.s.Remove(c.Context(), c.Query("id"), GetWorkspaceID(c)); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	var req transfer.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	res, err := h.qm.SchedulePost(c.Context(), c.Params("id"), GetWorkspaceID(c), service.ScheduleOptions{
		Datetime:  req.Datetime,
		Timezone:  req.Timezone,
		Platforms: req.Platforms,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	postID := c.Params("id")
	if _, err := h.s.PostInfo(c.Context(), postID, GetWorkspaceID(c)); err != nil {
		return respondError(c, h.logger, err)
	}

	ok, err := h.qm.CancelScheduledPost(c.Context(), postID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": ok,
	})
}

func (h *PostHandler) ReschedulePost(c *fiber.Ctx) error {
	var req transfer.RescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	res, err := h.qm.ReschedulePost(c.Context(), c.Params("id"), GetWorkspaceID(c), req.Datetime, req.Timezone)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *PostHandler) PublishNow(c *fiber.Ctx) error {
	res, err := h.qm.PublishNow(c.Context(), c.Params("id"), GetWorkspaceID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	res, err := h.qm.RetryFailedPost(c.Context(), c.Params("id"), GetWorkspaceID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (h *PostHandler) UpcomingPosts(c *fiber.Ctx) error {
	posts, err := h.qm.GetUpcomingPosts(c.Context(), GetWorkspaceID(c), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) PostHistory(c *fiber.Ctx) error {
	history, err := h.qm.GetPostHistory(c.Context(), GetWorkspaceID(c), c.QueryInt("page", 1), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(history)
}
