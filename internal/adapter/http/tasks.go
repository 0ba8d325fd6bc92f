package http

import (
	"crypto/subtle"
	"encoding/json"

	"cv-optimizer/internal/model"
	"cv-optimizer/internal/usecase"
	"cv-optimizer/pkg/infrastructure"

	"github.com/gofiber/fiber/v2"
)

// ProcessTask is the queue callback. A non-2xx answer makes the queue
// redeliver, so only store failures return 500.
func (h *Handler) ProcessTask(c *fiber.Ctx) error {
	if h.opts.TaskToken != "" {
		got := c.Get(infrastructure.TaskHeaderToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.TaskToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid task token"})
		}
	}
	raw := c.Body()
	if err := model.ValidateTask(raw); err != nil {
		return badRequest(c, err.Error())
	}
	var p usecase.TaskPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return badRequest(c, "invalid payload")
	}

	h.logger.Info("task.received", "job_id", p.JobID, "task_id", p.TaskID, "retry", c.Get("X-CloudTasks-TaskRetryCount"))
	if err := h.coord.RunJob(c.UserContext(), p.JobID); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "jobId": p.JobID})
}
