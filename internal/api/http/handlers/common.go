package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/civicq/queue-service/internal/api/dto"
	"github.com/civicq/queue-service/internal/auth"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/service"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

// parseDate accepts YYYY-MM-DD. An empty value yields the zero time when optional.
func parseDate(value, field string, optional bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if optional {
			return time.Time{}, nil
		}
		return time.Time{}, apperrors.NewValidationError(field+" is required", nil)
	}
	date, err := domain.ParseDate(value)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(field+" must be YYYY-MM-DD",
			map[string]any{field: value})
	}
	return date, nil
}

func promotionResponse(p *service.PromotionResult) *dto.PromotionResponse {
	if p == nil {
		return nil
	}
	resp := &dto.PromotionResponse{Promoted: p.Promoted, Reason: p.Reason}
	if p.Entry != nil {
		entry := dto.NewWaitlistEntryResponse(p.Entry)
		resp.Entry = &entry
	}
	if p.Appointment != nil {
		appt := dto.NewAppointmentResponse(p.Appointment)
		resp.Appointment = &appt
	}
	return resp
}
