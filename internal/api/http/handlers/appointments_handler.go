package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/civicq/queue-service/internal/api/dto"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/service"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// AppointmentsHandler serves booking and appointment lifecycle endpoints.
type AppointmentsHandler struct {
	booking      *service.BookingService
	cancellation *service.CancellationService
	noShows      *service.NoShowService
	queue        *service.QueueService
}

// NewAppointmentsHandler constructs handler.
func NewAppointmentsHandler(booking *service.BookingService, cancellation *service.CancellationService, noShows *service.NoShowService, queue *service.QueueService) *AppointmentsHandler {
	return &AppointmentsHandler{booking: booking, cancellation: cancellation, noShows: noShows, queue: queue}
}

// Book POST /appointments.
func (h *AppointmentsHandler) Book(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.BookAppointmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CitizenID == "" && principal.Role == domain.RoleCitizen {
		req.CitizenID = principal.SubjectID
	}
	if !principal.CanActFor(req.CitizenID) {
		return apperrors.NewForbidden("cannot book for another citizen")
	}
	if req.WalkIn && !principal.IsStaff() {
		return apperrors.NewForbidden("walk-ins are registered at the counter")
	}
	if req.DepartmentID == "" || req.ServiceID == "" {
		return apperrors.NewValidationError("department_id and service_id required", nil)
	}
	date, err := parseDate(req.Date, "date", req.WalkIn || req.IsEmergency)
	if err != nil {
		return err
	}

	result, err := h.booking.Book(c.UserContext(), service.BookingInput{
		CitizenID:          req.CitizenID,
		DepartmentID:       req.DepartmentID,
		ServiceID:          req.ServiceID,
		Date:               date,
		TimeSlot:           req.TimeSlot,
		Flags:              req.Flags(),
		PwdCertificateURL:  req.PwdCertificateURL,
		AgeProofURL:        req.AgeProofURL,
		Contact:            req.Contact.ToDomain(),
		Notes:              req.Notes,
		WalkIn:             req.WalkIn,
		JoinWaitlistIfFull: req.JoinWaitlistIfFull,
		BookedBy:           principal.SubjectID,
	})
	// A full slot that spilled into the waitlist comes back with both the entry and the reason.
	if result != nil && result.WaitlistEntry != nil {
		payload := fiber.Map{"waitlist_entry": dto.NewWaitlistEntryResponse(result.WaitlistEntry)}
		if err != nil {
			reason := apperrors.ToDomainError(err)
			payload["reason"] = fiber.Map{"code": reason.Code, "message": reason.Message}
		}
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": payload})
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAppointmentResponse(result.Appointment)})
}

// owned loads an appointment the caller may act on.
func (h *AppointmentsHandler) owned(c *fiber.Ctx) (*domain.Appointment, string, error) {
	principal, err := requirePrincipal(c)
	if err != nil {
		return nil, "", err
	}
	appt, err := h.booking.GetAppointment(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, "", err
	}
	if !principal.CanActFor(appt.CitizenID) {
		return nil, "", apperrors.NewForbidden("appointment belongs to another citizen")
	}
	return appt, principal.SubjectID, nil
}

// Get GET /appointments/:id.
func (h *AppointmentsHandler) Get(c *fiber.Ctx) error {
	appt, _, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAppointmentResponse(appt)})
}

// Status GET /appointments/:id/status.
func (h *AppointmentsHandler) Status(c *fiber.Ctx) error {
	appt, _, err := h.owned(c)
	if err != nil {
		return err
	}
	status, err := h.queue.QueueStatus(c.UserContext(), appt.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.QueueStatusResponse{
		Appointment:          dto.NewAppointmentResponse(status.Appointment),
		AheadCount:           status.AheadCount,
		EstimatedWaitMinutes: status.EstimatedWaitMinutes,
	}})
}

// CheckIn POST /appointments/:id/check-in.
func (h *AppointmentsHandler) CheckIn(c *fiber.Ctx) error {
	appt, actor, err := h.owned(c)
	if err != nil {
		return err
	}
	updated, err := h.queue.CheckIn(c.UserContext(), appt.ID, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAppointmentResponse(updated)})
}

// Cancel POST /appointments/:id/cancel.
func (h *AppointmentsHandler) Cancel(c *fiber.Ctx) error {
	appt, actor, err := h.owned(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	result, err := h.cancellation.Cancel(c.UserContext(), appt.ID, actor, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.CancellationResponse{
		Appointment:           dto.NewAppointmentResponse(result.Appointment),
		Policy:                result.Policy,
		RefundPercentage:      result.RefundPercentage,
		CancellationFee:       result.CancellationFee,
		HoursUntilAppointment: result.HoursUntilAppointment,
		Promotion:             promotionResponse(result.Promotion),
	}})
}

// Reschedule POST /appointments/:id/reschedule.
func (h *AppointmentsHandler) Reschedule(c *fiber.Ctx) error {
	appt, actor, err := h.owned(c)
	if err != nil {
		return err
	}
	var req dto.RescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	newDate, err := parseDate(req.NewDate, "new_date", false)
	if err != nil {
		return err
	}
	if req.NewTimeSlot == "" {
		return apperrors.NewValidationError("new_time_slot required", nil)
	}
	result, err := h.cancellation.Reschedule(c.UserContext(), appt.ID, newDate, req.NewTimeSlot, actor, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.RescheduleResponse{
		Original:    dto.NewAppointmentResponse(result.Original),
		Replacement: dto.NewAppointmentResponse(result.Replacement),
		Promotion:   promotionResponse(result.Promotion),
	}})
}

// MarkNoShow POST /appointments/:id/no-show.
func (h *AppointmentsHandler) MarkNoShow(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	result, err := h.noShows.MarkAsNoShow(c.UserContext(), c.Params("id"), principal.SubjectID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NoShowResponse{
		Appointment: dto.NewAppointmentResponse(result.Appointment),
		Promotion:   promotionResponse(result.Promotion),
	}})
}

// Reactivate POST /appointments/:id/reactivate.
func (h *AppointmentsHandler) Reactivate(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	appt, err := h.noShows.Reactivate(c.UserContext(), c.Params("id"), principal.SubjectID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAppointmentResponse(appt)})
}
