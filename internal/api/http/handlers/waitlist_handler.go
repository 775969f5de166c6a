package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/civicq/queue-service/internal/api/dto"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/service"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// WaitlistHandler manages waitlist endpoints.
type WaitlistHandler struct {
	waitlist *service.WaitlistService
}

// NewWaitlistHandler constructs handler.
func NewWaitlistHandler(waitlist *service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// Join POST /waitlist.
func (h *WaitlistHandler) Join(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.JoinWaitlistRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CitizenID == "" && principal.Role == domain.RoleCitizen {
		req.CitizenID = principal.SubjectID
	}
	if !principal.CanActFor(req.CitizenID) {
		return apperrors.NewForbidden("cannot join the waitlist for another citizen")
	}
	date, err := parseDate(req.PreferredDate, "preferred_date", false)
	if err != nil {
		return err
	}
	entry, err := h.waitlist.AddToWaitlist(c.UserContext(), service.WaitlistInput{
		CitizenID:         req.CitizenID,
		DepartmentID:      req.DepartmentID,
		ServiceID:         req.ServiceID,
		PreferredDate:     date,
		PreferredTimeSlot: req.PreferredTimeSlot,
		Flags:             req.Flags(),
		Contact:           req.Contact.ToDomain(),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewWaitlistEntryResponse(entry)})
}

// Leave DELETE /waitlist/:id.
func (h *WaitlistHandler) Leave(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	entry, err := h.waitlist.GetEntry(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if !principal.CanActFor(entry.CitizenID) {
		return apperrors.NewForbidden("waitlist entry belongs to another citizen")
	}
	removed, err := h.waitlist.RemoveFromWaitlist(c.UserContext(), entry.ID, principal.SubjectID, c.Query("reason"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWaitlistEntryResponse(removed)})
}

// List GET /waitlist/:departmentId/:serviceId?date=.
func (h *WaitlistHandler) List(c *fiber.Ctx) error {
	date, err := parseDate(c.Query("date"), "date", false)
	if err != nil {
		return err
	}
	entries, err := h.waitlist.Waitlist(c.UserContext(), c.Params("departmentId"), c.Params("serviceId"), date)
	if err != nil {
		return err
	}
	items := make([]dto.WaitlistEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.NewWaitlistEntryResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
