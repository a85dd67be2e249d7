package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mailsweep/adapter/in/worker"
	"mailsweep/core/domain"
	"mailsweep/core/port/in"
	"mailsweep/pkg/apperr"
)

// SubscriptionHandler exposes detection and unsubscribe operations.
type SubscriptionHandler struct {
	detection     in.DetectionService
	subscriptions in.SubscriptionService
	pool          *worker.Pool
}

func NewSubscriptionHandler(
	detection in.DetectionService,
	subscriptions in.SubscriptionService,
	pool *worker.Pool,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		detection:     detection,
		subscriptions: subscriptions,
		pool:          pool,
	}
}

// RegisterRoutes registers subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(app fiber.Router) {
	subs := app.Group("/subscriptions")
	subs.Post("/detect", h.Detect)
	subs.Post("/messages", h.IngestMessage)
	subs.Get("/", h.List)
	subs.Get("/stats", h.Stats)
	subs.Get("/:id", h.Get)
	subs.Post("/:id/unsubscribe", h.Unsubscribe)
	subs.Post("/unsubscribe/bulk", h.BulkUnsubscribe)
	subs.Post("/:id/resubscribe", h.MarkResubscribed)
}

// Detect starts a mailbox scan. With sync=true the scan runs inline and the
// results come back in the response; otherwise it is queued on the worker
// pool and the endpoint returns immediately.
func (h *SubscriptionHandler) Detect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "detect")
	}

	if c.QueryBool("sync", false) {
		result, err := h.detection.Detect(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err, "detect")
		}
		return SuccessResponse(c, result)
	}

	msg := worker.NewMessage(worker.JobScanFull, map[string]any{
		"user_id": userID.String(),
	})
	if !h.pool.Submit(msg) {
		return ErrorResponse(c, fiber.StatusServiceUnavailable, apperr.CodeInternalError, "scan queue full")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
		"job_id":   msg.ID,
	})
}

// IngestMessage queues an incremental fold for one newly arrived message,
// delivered by the sync collaborator as it lands. Jobs key on the sender
// address so folds for the same sender run in arrival order.
func (h *SubscriptionHandler) IngestMessage(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "ingest message")
	}

	var msg domain.NormalizedMessage
	if err := c.BodyParser(&msg); err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("body", "malformed message"))
	}
	sender := strings.ToLower(strings.TrimSpace(msg.SenderAddress))
	if sender == "" {
		return AppErrorResponse(c, apperr.MissingField("sender_address"))
	}
	msg.Headers = domain.NewHeaderMap(msg.Headers)

	job := worker.NewMessage(worker.JobScanMessage, map[string]any{
		"user_id": userID.String(),
		"message": &msg,
	})
	job.ChunkKey = sender
	if !h.pool.Submit(job) {
		return ErrorResponse(c, fiber.StatusServiceUnavailable, apperr.CodeInternalError, "scan queue full")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
		"job_id":   job.ID,
	})
}

// List returns detected subscriptions, filterable by tier, category and
// status.
func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "list subscriptions")
	}

	filter := domain.SubscriptionListFilter{
		Tier:       domain.ConfidenceTier(c.Query("tier")),
		Category:   domain.SubscriptionCategory(c.Query("category")),
		Status:     domain.UnsubscribeStatus(c.Query("status")),
		ActiveOnly: c.QueryBool("active_only", true),
		Limit:      c.QueryInt("limit", 100),
		Offset:     c.QueryInt("offset", 0),
	}

	subs, err := h.subscriptions.ListSubscriptions(c.UserContext(), userID, filter)
	if err != nil {
		return respondError(c, err, "list subscriptions")
	}
	return SuccessResponse(c, fiber.Map{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

func (h *SubscriptionHandler) Stats(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "subscription stats")
	}

	stats, err := h.subscriptions.GetStats(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err, "subscription stats")
	}
	return SuccessResponse(c, stats)
}

func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "get subscription")
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be an integer"))
	}

	sub, err := h.subscriptions.GetSubscription(c.UserContext(), userID, int64(id))
	if err != nil {
		return respondError(c, err, "get subscription")
	}
	return SuccessResponse(c, sub)
}

// Unsubscribe runs one unsubscribe attempt synchronously and returns the
// outcome.
func (h *SubscriptionHandler) Unsubscribe(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "unsubscribe")
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be an integer"))
	}

	outcome, err := h.subscriptions.Unsubscribe(c.UserContext(), userID, int64(id))
	if err != nil {
		return respondError(c, err, "unsubscribe")
	}
	return SuccessResponse(c, outcome)
}

type bulkUnsubscribeRequest struct {
	IDs []int64 `json:"ids"`
}

// BulkUnsubscribe queues a bulk attempt on the worker pool and returns the
// job ID. Per-item outcomes land on the subscription records.
func (h *SubscriptionHandler) BulkUnsubscribe(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "bulk unsubscribe")
	}

	var req bulkUnsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}
	if len(req.IDs) == 0 {
		return AppErrorResponse(c, apperr.MissingField("ids"))
	}

	if c.QueryBool("sync", false) {
		result, err := h.subscriptions.BulkUnsubscribe(c.UserContext(), userID, req.IDs)
		if err != nil {
			return respondError(c, err, "bulk unsubscribe")
		}
		return SuccessResponse(c, result)
	}

	msg := worker.NewPriorityMessage(worker.JobUnsubscribeBulk, map[string]any{
		"user_id":          userID.String(),
		"subscription_ids": req.IDs,
	}, worker.PriorityHigh)
	if !h.pool.SubmitPriority(msg) {
		return ErrorResponse(c, fiber.StatusServiceUnavailable, apperr.CodeInternalError, "job queue full")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
		"job_id":   msg.ID,
		"count":    len(req.IDs),
	})
}

func (h *SubscriptionHandler) MarkResubscribed(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "mark resubscribed")
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be an integer"))
	}

	rec, err := h.subscriptions.MarkResubscribed(c.UserContext(), userID, int64(id))
	if err != nil {
		return respondError(c, err, "mark resubscribed")
	}
	return SuccessResponse(c, rec)
}
