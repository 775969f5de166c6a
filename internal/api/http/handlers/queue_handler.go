package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/civicq/queue-service/internal/api/dto"
	"github.com/civicq/queue-service/internal/service"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// QueueHandler serves counter operations.
type QueueHandler struct {
	queue   *service.QueueService
	noShows *service.NoShowService
	now     func() time.Time
}

// NewQueueHandler constructs handler.
func NewQueueHandler(queue *service.QueueService, noShows *service.NoShowService) *QueueHandler {
	return &QueueHandler{queue: queue, noShows: noShows, now: time.Now}
}

// CallNext POST /queue/:departmentId/:serviceId/call-next.
func (h *QueueHandler) CallNext(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CallNextRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if req.CounterID == "" {
		req.CounterID = principal.CounterID
	}
	appt, err := h.queue.CallNext(c.UserContext(), c.Params("departmentId"), c.Params("serviceId"), req.CounterID, principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAppointmentResponse(appt)})
}

// Complete POST /queue/tokens/:token/complete.
func (h *QueueHandler) Complete(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CompleteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	appt, err := h.queue.Complete(c.UserContext(), c.Params("token"), principal.SubjectID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAppointmentResponse(appt)})
}

// Live GET /queue/:departmentId/:serviceId.
func (h *QueueHandler) Live(c *fiber.Ctx) error {
	live, err := h.queue.LiveQueue(c.UserContext(), c.Params("departmentId"), c.Params("serviceId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LiveQueueResponse{
		DepartmentID: live.DepartmentID,
		ServiceID:    live.ServiceID,
		Date:         live.Date,
		NowServing:   dto.NewAppointmentList(live.NowServing),
		Waiting:      dto.NewAppointmentList(live.Waiting),
		Upcoming:     dto.NewAppointmentList(live.Upcoming),
		Metrics:      live.Metrics,
	}})
}

// SweepNoShows POST /queue/no-shows/sweep runs one no-show pass on demand.
func (h *QueueHandler) SweepNoShows(c *fiber.Ctx) error {
	report, err := h.noShows.ProcessNoShows(c.UserContext(), h.now())
	if err != nil {
		return err
	}
	promotions := make([]*dto.PromotionResponse, 0, len(report.Promotions))
	for i := range report.Promotions {
		promotions = append(promotions, promotionResponse(&report.Promotions[i]))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"processed":  report.Processed,
		"no_shows":   dto.NewAppointmentList(report.NoShows),
		"promotions": promotions,
	}})
}
