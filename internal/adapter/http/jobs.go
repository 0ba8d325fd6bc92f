package http

import (
	"errors"

	"cv-optimizer/internal/domain"
	"cv-optimizer/internal/usecase"

	"github.com/gofiber/fiber/v2"
)

type storeJobReq struct {
	JobID           string `json:"jobId"`
	JobURL          string `json:"jobUrl"`
	CVHTML          string `json:"cvHTML"`
	RefinementLevel any    `json:"refinementLevel"`
	TabSessionID    string `json:"tabSessionId"`
	BundleType      string `json:"bundleType"`
}

func (r storeJobReq) input(owner string) usecase.JobInput {
	return usecase.JobInput{
		JobID:            r.JobID,
		JobURL:           r.JobURL,
		OriginalDocument: r.CVHTML,
		RefinementLevel:  r.RefinementLevel,
		TabSessionID:     r.TabSessionID,
		OwnerKey:         owner,
		BundleType:       r.BundleType,
	}
}

type jobRef struct {
	JobID        string `json:"jobId"`
	TabSessionID string `json:"tabSessionId"`
}

// StoreJobData creates a pending job ahead of payment.
func (h *Handler) StoreJobData(c *fiber.Ctx) error {
	var req storeJobReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	owner := ownerKey(c)

	if req.BundleType == "" {
		used, err := h.freePasses.HasUsed(c.UserContext(), owner)
		if err != nil {
			return h.writeError(c, err)
		}
		if used {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":           "free pass already used, choose a paid option",
				"requiresPayment": true,
			})
		}
	}

	job, err := h.coord.CreateJob(c.UserContext(), req.input(owner))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "jobId": job.ID, "tabSessionId": job.TabSessionID})
}

// Refine starts a job without payment. It is disabled in production.
func (h *Handler) Refine(c *fiber.Ctx) error {
	if !h.opts.AllowDirectRefine {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "direct refinement is disabled"})
	}
	var req storeJobReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	ctx := c.UserContext()
	owner := ownerKey(c)

	jobID := req.JobID
	if jobID == "" || req.CVHTML != "" {
		job, err := h.coord.CreateJob(ctx, req.input(owner))
		if err != nil && !errors.Is(err, domain.ErrJobExists) {
			return h.writeError(c, err)
		}
		if job != nil {
			jobID = job.ID
		}
	}

	res, err := h.coord.StartRefinement(ctx, jobID, usecase.Trigger{
		Kind:         usecase.TriggerDirect,
		OwnerKey:     owner,
		TabSessionID: req.TabSessionID,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return h.writeResult(c, res)
}

// RefinementStatus answers polls. An unknown job reads as pending since
// the poll may arrive before the job is stored.
func (h *Handler) RefinementStatus(c *fiber.Ctx) error {
	var req jobRef
	if err := c.BodyParser(&req); err != nil || req.JobID == "" {
		return badRequest(c, "jobId is required")
	}
	view, err := h.coord.CheckStatus(c.UserContext(), req.JobID, req.TabSessionID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return c.JSON(usecase.StatusView{JobID: req.JobID, Status: string(domain.StatusPending), Message: "Waiting for job data"})
		}
		return h.writeError(c, err)
	}
	return c.JSON(view)
}

// GetJobData returns the stored job. Documents are withheld from other
// owners.
func (h *Handler) GetJobData(c *fiber.Ctx) error {
	var req jobRef
	if err := c.BodyParser(&req); err != nil || req.JobID == "" {
		return badRequest(c, "jobId is required")
	}
	job, err := h.coord.Job(c.UserContext(), req.JobID)
	if err != nil {
		return h.writeError(c, err)
	}
	if job.OwnerKey != "" && job.OwnerKey != ownerKey(c) {
		job.OriginalDocument = ""
		job.RefinedDocument = nil
		job.ChangesView = nil
	}
	job.OwnerKey = ""
	job.TriggerIdempotencyKey = ""
	return c.JSON(fiber.Map{"success": true, "job": job})
}
