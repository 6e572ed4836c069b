package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"go.uber.org/zap"
)

type QueueHandler struct {
	qm     service.QueueManager
	logger *zap.Logger
	now    func() time.Time
}

func NewQueueHandler(qm service.QueueManager, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{qm: qm, logger: logger, now: time.Now}
}

func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.qm.GetQueueStats(c.Context())
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(counts)
}

func (h *QueueHandler) WeeklySchedule(c *fiber.Ctx) error {
	loc := time.UTC
	if tz := c.Query("timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown timezone",
			})
		}
		loc = l
	}

	var platforms []string
	for _, p := range strings.Split(c.Query("platforms"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			platforms = append(platforms, p)
		}
	}

	suggestions, err := service.GenerateWeeklySchedule(c.QueryInt("posts_per_week", 7), platforms, h.now(), loc)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(suggestions)
}
