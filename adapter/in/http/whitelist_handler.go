package http

import (
	"github.com/gofiber/fiber/v2"

	"mailsweep/core/port/in"
	"mailsweep/pkg/apperr"
)

// WhitelistHandler manages sender exemptions.
type WhitelistHandler struct {
	whitelist in.WhitelistService
}

func NewWhitelistHandler(whitelist in.WhitelistService) *WhitelistHandler {
	return &WhitelistHandler{whitelist: whitelist}
}

// RegisterRoutes registers whitelist routes.
func (h *WhitelistHandler) RegisterRoutes(app fiber.Router) {
	wl := app.Group("/whitelist")
	wl.Get("/", h.List)
	wl.Post("/", h.Add)
	wl.Delete("/:id", h.Remove)
}

func (h *WhitelistHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "list whitelist")
	}

	entries, err := h.whitelist.ListWhitelist(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err, "list whitelist")
	}
	return SuccessResponse(c, fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

type addWhitelistRequest struct {
	Pattern string `json:"pattern"`
	Note    string `json:"note,omitempty"`
}

func (h *WhitelistHandler) Add(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "add whitelist entry")
	}

	var req addWhitelistRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}

	entry, err := h.whitelist.AddWhitelist(c.UserContext(), userID, req.Pattern, req.Note)
	if err != nil {
		return respondError(c, err, "add whitelist entry")
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *WhitelistHandler) Remove(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return respondError(c, err, "remove whitelist entry")
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return AppErrorResponse(c, apperr.InvalidInput("id", "must be an integer"))
	}

	if err := h.whitelist.RemoveWhitelist(c.UserContext(), userID, int64(id)); err != nil {
		return respondError(c, err, "remove whitelist entry")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
