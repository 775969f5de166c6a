package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicq/queue-service/internal/api/dto"
	"github.com/civicq/queue-service/internal/repository"
	"github.com/civicq/queue-service/internal/service"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// DepartmentsHandler exposes department configuration and slot capacity.
type DepartmentsHandler struct {
	departments repository.DepartmentRepository
	booking     *service.BookingService
}

// NewDepartmentsHandler constructs handler.
func NewDepartmentsHandler(departments repository.DepartmentRepository, booking *service.BookingService) *DepartmentsHandler {
	return &DepartmentsHandler{departments: departments, booking: booking}
}

// List GET /departments.
func (h *DepartmentsHandler) List(c *fiber.Ctx) error {
	depts, err := h.departments.ListActive(c.UserContext())
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	items := make([]dto.DepartmentResponse, 0, len(depts))
	for _, d := range depts {
		items = append(items, dto.DepartmentResponse{
			ID:                  d.ID,
			Code:                d.Code,
			Name:                d.Name,
			WorkingStart:        d.WorkingStart,
			WorkingEnd:          d.WorkingEnd,
			SlotDurationMinutes: d.SlotDurationMinutes,
			MaxSlotsPerTimeSlot: d.MaxSlotsPerTimeSlot,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Slots GET /departments/:id/slots?date=.
func (h *DepartmentsHandler) Slots(c *fiber.Ctx) error {
	date, err := parseDate(c.Query("date"), "date", false)
	if err != nil {
		return err
	}
	slots, err := h.booking.ListSlots(c.UserContext(), c.Params("id"), date)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"department_id": c.Params("id"),
		"date":          c.Query("date"),
		"slots":         slots,
	}})
}
