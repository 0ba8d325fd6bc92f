package http

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"cv-optimizer/internal/domain"
	"cv-optimizer/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

// OwnerCookie identifies a browser across jobs and purchases.
const OwnerCookie = "cvopt_uid"

const ownerLocal = "owner"

type Options struct {
	WebhookSecret     string
	CheckoutURL       string
	BundleCheckoutURL string
	TaskToken         string
	AdminAPIKey       string
	AllowDirectRefine bool
	AllowedOrigins    string
	SecureCookies     bool
	RateLimitMax      int
	RateLimitWindow   time.Duration
}

type Handler struct {
	coord      *usecase.Coordinator
	credits    usecase.CreditStore
	freePasses usecase.FreePassStore
	opts       Options
	logger     *slog.Logger
}

func NewHandler(coord *usecase.Coordinator, credits usecase.CreditStore, passes usecase.FreePassStore, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RateLimitMax <= 0 {
		opts.RateLimitMax = 10
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = 5 * time.Minute
	}
	return &Handler{coord: coord, credits: credits, freePasses: passes, opts: opts, logger: logger}
}

// NewApp builds the fiber app with middleware and every route registered.
func (h *Handler) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:    5 * 1024 * 1024,
		ErrorHandler: h.errorHandler,
	})
	app.Use(recover.New())
	origins := h.opts.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowCredentials: origins != "*",
		AllowHeaders:     "Origin, Content-Type, Accept, X-Signature, X-Admin-Key",
	}))
	h.Register(app)
	return app
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)

	app.Post("/api/process-refinement-task", h.ProcessTask)
	app.Post("/api/webhooks/lemonsqueezy", h.Webhook)
	app.Get("/api/admin/free-pass-stats", h.FreePassStats)

	api := app.Group("", h.ownerMiddleware)
	api.Post("/api/store-job-data", limiter.New(limiter.Config{
		Max:          h.opts.RateLimitMax,
		Expiration:   h.opts.RateLimitWindow,
		KeyGenerator: ownerKey,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests, try again later"})
		},
	}), h.StoreJobData)
	api.Post("/refine", h.Refine)
	api.Post("/api/create-checkout", h.CreateCheckout)
	api.Post("/api/free-pass-submit", h.FreePassSubmit)
	api.Post("/api/refinement-status", h.RefinementStatus)
	api.Post("/api/get-job-data", h.GetJobData)
	api.Get("/api/check-credits", h.CheckCredits)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// ownerMiddleware reads the owner cookie or issues a new one.
func (h *Handler) ownerMiddleware(c *fiber.Ctx) error {
	id := c.Cookies(OwnerCookie)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     OwnerCookie,
			Value:    id,
			Path:     "/",
			Expires:  time.Now().Add(365 * 24 * time.Hour),
			HTTPOnly: true,
			Secure:   h.opts.SecureCookies,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	c.Locals(ownerLocal, id)
	return c.Next()
}

func ownerKey(c *fiber.Ctx) string {
	if v, ok := c.Locals(ownerLocal).(string); ok {
		return v
	}
	return c.IP()
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal error"
	var appErr *domain.AppError
	switch {
	case errors.Is(err, domain.ErrInvalidJob):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrJobExists), errors.Is(err, usecase.ErrFreePassUsed):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrDispatchFailed):
		msg = "unable to start refinement, please retry"
	}
	if status < fiber.StatusInternalServerError && errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("http.request.failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// writeResult renders a trigger outcome.
func (h *Handler) writeResult(c *fiber.Ctx, res usecase.Result) error {
	body := fiber.Map{"success": true, "outcome": string(res.Outcome)}
	if res.Job != nil {
		body["jobId"] = res.Job.ID
		body["status"] = string(res.Job.Status)
	}
	switch res.Outcome {
	case usecase.OutcomeStarted:
		body["taskId"] = res.TaskID
		return c.Status(fiber.StatusAccepted).JSON(body)
	case usecase.OutcomeNoCredits:
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "no credits remaining"})
	case usecase.OutcomeDispatchFailed:
		return h.writeError(c, res.Err)
	}
	return c.JSON(body)
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": strings.ToLower(fe.Message)})
	}
	return h.writeError(c, err)
}
