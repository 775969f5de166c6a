package dto

import (
	"time"

	"github.com/civicq/queue-service/internal/domain"
)

// JoinWaitlistRequest payload.
type JoinWaitlistRequest struct {
	CitizenID         string         `json:"citizen_id"`
	DepartmentID      string         `json:"department_id"`
	ServiceID         string         `json:"service_id"`
	PreferredDate     string         `json:"preferred_date"`
	PreferredTimeSlot string         `json:"preferred_time_slot"`
	IsPwd             bool           `json:"is_pwd"`
	IsSeniorCitizen   bool           `json:"is_senior_citizen"`
	IsEmergency       bool           `json:"is_emergency"`
	IsVip             bool           `json:"is_vip"`
	Contact           ContactPayload `json:"contact"`
}

// Flags groups the priority markers.
func (r JoinWaitlistRequest) Flags() domain.PriorityFlags {
	return domain.PriorityFlags{
		IsPwd:           r.IsPwd,
		IsSeniorCitizen: r.IsSeniorCitizen,
		IsEmergency:     r.IsEmergency,
		IsVip:           r.IsVip,
	}
}

// WaitlistEntryResponse represents a waitlist entry.
type WaitlistEntryResponse struct {
	ID                    string                `json:"id"`
	CitizenID             string                `json:"citizen_id"`
	DepartmentID          string                `json:"department_id"`
	ServiceID             string                `json:"service_id"`
	PreferredDate         string                `json:"preferred_date"`
	PreferredTimeSlot     string                `json:"preferred_time_slot,omitempty"`
	Position              int                   `json:"position"`
	Status                domain.WaitlistStatus `json:"status"`
	AssignedAppointmentID string                `json:"assigned_appointment_id,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}

// NewWaitlistEntryResponse maps a domain entry.
func NewWaitlistEntryResponse(e *domain.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:                    e.ID,
		CitizenID:             e.CitizenID,
		DepartmentID:          e.DepartmentID,
		ServiceID:             e.ServiceID,
		PreferredDate:         domain.DateKey(e.PreferredDate),
		PreferredTimeSlot:     e.PreferredTimeSlot,
		Position:              e.Position,
		Status:                e.Status,
		AssignedAppointmentID: e.AssignedAppointmentID,
		CreatedAt:             e.CreatedAt,
	}
}

// PromotionResponse reports a reallocation attempt.
type PromotionResponse struct {
	Promoted    bool                   `json:"promoted"`
	Reason      string                 `json:"reason,omitempty"`
	Entry       *WaitlistEntryResponse `json:"entry,omitempty"`
	Appointment *AppointmentResponse   `json:"appointment,omitempty"`
}
