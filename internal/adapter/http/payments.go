package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"

	"cv-optimizer/internal/domain"
	"cv-optimizer/internal/model"
	"cv-optimizer/internal/usecase"

	"github.com/gofiber/fiber/v2"
)

type checkoutReq struct {
	JobID        string `json:"jobId"`
	TabSessionID string `json:"tabSessionId"`
	BundleType   string `json:"bundleType"`
}

// CreateCheckout redeems a prepaid credit when the owner has one and
// otherwise returns a checkout link carrying the correlation data.
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	var req checkoutReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if req.BundleType == "" {
		req.BundleType = domain.BundleSingle
	}
	if req.BundleType != domain.BundleSingle && req.BundleType != domain.BundleMulti {
		return badRequest(c, "unknown bundle type")
	}
	if req.BundleType == domain.BundleSingle && req.JobID == "" {
		return badRequest(c, "jobId is required")
	}
	ctx := c.UserContext()
	owner := ownerKey(c)

	if req.BundleType == domain.BundleSingle {
		balance, err := h.credits.Balance(ctx, owner)
		if err != nil {
			return h.writeError(c, err)
		}
		if balance > 0 {
			res, err := h.coord.StartRefinement(ctx, req.JobID, usecase.Trigger{
				Kind:           usecase.TriggerCredit,
				IdempotencyKey: "credit:" + req.JobID,
				OwnerKey:       owner,
				TabSessionID:   req.TabSessionID,
				RedeemCredit:   true,
			})
			if err != nil {
				return h.writeError(c, err)
			}
			switch res.Outcome {
			case usecase.OutcomeDispatchFailed:
				return h.writeError(c, res.Err)
			case usecase.OutcomeNoCredits:
				// Spent concurrently; fall through to checkout.
			default:
				remaining := res.RemainingCredits
				if res.Outcome != usecase.OutcomeStarted {
					remaining, _ = h.credits.Balance(ctx, owner)
				}
				return c.JSON(fiber.Map{"success": true, "useCredit": res.Outcome == usecase.OutcomeStarted, "outcome": string(res.Outcome), "remainingCredits": remaining, "jobId": req.JobID})
			}
		}
	}

	link, err := h.checkoutLink(req, owner)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "useCredit": false, "checkoutUrl": link})
}

type configError string

func (e configError) Error() string { return string(e) }

func (h *Handler) checkoutLink(req checkoutReq, owner string) (string, error) {
	base := h.opts.CheckoutURL
	if req.BundleType == domain.BundleMulti && h.opts.BundleCheckoutURL != "" {
		base = h.opts.BundleCheckoutURL
	}
	if base == "" {
		return "", configError("checkout is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", configError("checkout is misconfigured")
	}
	q := u.Query()
	q.Set("checkout[custom][job_id]", req.JobID)
	q.Set("checkout[custom][user_id]", owner)
	q.Set("checkout[custom][tab_session_id]", req.TabSessionID)
	q.Set("checkout[custom][bundle_type]", req.BundleType)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Webhook handles payment confirmations. Only paid order_created events
// trigger work; anything else is acknowledged and ignored.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	raw := c.Body()
	if !validSignature(h.opts.WebhookSecret, raw, c.Get("X-Signature")) {
		h.logger.Warn("webhook.signature.invalid", "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}
	if err := model.ValidateWebhook(raw); err != nil {
		return badRequest(c, err.Error())
	}
	var p model.WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return badRequest(c, "invalid payload")
	}

	key := p.EventKey()
	log := h.logger.With("event", p.Meta.EventName, "key", key, "job_id", p.Meta.CustomData.JobID)
	if !p.IsPaidOrder() {
		log.Info("webhook.ignored", "order_status", p.Data.Attributes.Status)
		return c.JSON(fiber.Map{"received": true, "ignored": true})
	}

	cd := p.Meta.CustomData
	ctx := c.UserContext()
	if cd.BundleType == domain.BundleMulti {
		res, err := h.coord.RecordBundlePurchase(ctx, usecase.BundleGrant{
			JobID:          cd.JobID,
			OwnerKey:       cd.UserID,
			IdempotencyKey: key,
			Reference:      "order:" + p.Data.ID,
		})
		if err != nil {
			return h.writeError(c, err)
		}
		log.Info("webhook.bundle", "outcome", string(res.Outcome))
		return c.JSON(fiber.Map{"received": true, "outcome": string(res.Outcome)})
	}

	if cd.JobID == "" {
		log.Warn("webhook.uncorrelated", "order", p.Data.ID)
		return c.JSON(fiber.Map{"received": true, "ignored": true})
	}
	res, err := h.coord.StartRefinement(ctx, cd.JobID, usecase.Trigger{
		Kind:           usecase.TriggerPayment,
		IdempotencyKey: key,
		OwnerKey:       cd.UserID,
		TabSessionID:   cd.TabSessionID,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	if res.Outcome == usecase.OutcomeDispatchFailed {
		return h.writeError(c, res.Err)
	}
	log.Info("webhook.payment", "outcome", string(res.Outcome))
	return c.JSON(fiber.Map{"received": true, "outcome": string(res.Outcome)})
}

func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) CheckCredits(c *fiber.Ctx) error {
	ctx := c.UserContext()
	owner := ownerKey(c)
	balance, err := h.credits.Balance(ctx, owner)
	if err != nil {
		return h.writeError(c, err)
	}
	used, err := h.freePasses.HasUsed(ctx, owner)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"credits": balance, "hasUsedFreePass": used})
}

type freePassReq struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	JobID        string `json:"jobId"`
	TabSessionID string `json:"tabSessionId"`
}

func (h *Handler) FreePassSubmit(c *fiber.Ctx) error {
	var req freePassReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	res, err := h.coord.ClaimFreePass(c.UserContext(), domain.FreePassClaim{
		OwnerKey:  ownerKey(c),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		JobID:     req.JobID,
	}, req.TabSessionID)
	if err != nil {
		return h.writeError(c, err)
	}
	return h.writeResult(c, res)
}
