package dto

import (
	"time"

	"github.com/civicq/queue-service/internal/domain"
)

// ContactPayload carries notification details.
type ContactPayload struct {
	Email   string                     `json:"email"`
	Phone   string                     `json:"phone"`
	Channel domain.NotificationChannel `json:"channel"`
}

// ToDomain converts the payload.
func (c ContactPayload) ToDomain() domain.Contact {
	return domain.Contact{Email: c.Email, Phone: c.Phone, Channel: c.Channel}
}

// BookAppointmentRequest payload.
type BookAppointmentRequest struct {
	CitizenID          string         `json:"citizen_id"`
	DepartmentID       string         `json:"department_id"`
	ServiceID          string         `json:"service_id"`
	Date               string         `json:"date"`
	TimeSlot           string         `json:"time_slot"`
	IsPwd              bool           `json:"is_pwd"`
	IsSeniorCitizen    bool           `json:"is_senior_citizen"`
	IsEmergency        bool           `json:"is_emergency"`
	IsVip              bool           `json:"is_vip"`
	PwdCertificateURL  string         `json:"pwd_certificate_url"`
	AgeProofURL        string         `json:"age_proof_url"`
	Contact            ContactPayload `json:"contact"`
	Notes              string         `json:"notes"`
	WalkIn             bool           `json:"walk_in"`
	JoinWaitlistIfFull bool           `json:"join_waitlist_if_full"`
}

// Flags groups the priority markers.
func (r BookAppointmentRequest) Flags() domain.PriorityFlags {
	return domain.PriorityFlags{
		IsPwd:           r.IsPwd,
		IsSeniorCitizen: r.IsSeniorCitizen,
		IsEmergency:     r.IsEmergency,
		IsVip:           r.IsVip,
	}
}

// ReasonRequest is the body of cancel, no-show and reactivate calls.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// RescheduleRequest payload.
type RescheduleRequest struct {
	NewDate     string `json:"new_date"`
	NewTimeSlot string `json:"new_time_slot"`
	Reason      string `json:"reason"`
}

// AppointmentResponse represents an appointment.
type AppointmentResponse struct {
	ID                 string                   `json:"id"`
	TokenNumber        string                   `json:"token_number"`
	CitizenID          string                   `json:"citizen_id"`
	DepartmentID       string                   `json:"department_id"`
	ServiceID          string                   `json:"service_id"`
	AppointmentDate    string                   `json:"appointment_date"`
	TimeSlot           string                   `json:"time_slot"`
	QueuePosition      int                      `json:"queue_position"`
	Priority           domain.PriorityTier      `json:"priority"`
	Flags              domain.PriorityFlags     `json:"flags"`
	Status             domain.AppointmentStatus `json:"status"`
	CounterID          string                   `json:"counter_id,omitempty"`
	Notes              string                   `json:"notes,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	CheckedInAt        *time.Time               `json:"checked_in_at,omitempty"`
	ActualStartTime    *time.Time               `json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time               `json:"actual_end_time,omitempty"`
	NoShowAt           *time.Time               `json:"no_show_at,omitempty"`
	CancelledAt        *time.Time               `json:"cancelled_at,omitempty"`
	CancellationReason string                   `json:"cancellation_reason,omitempty"`
	RescheduledFrom    string                   `json:"rescheduled_from,omitempty"`
	AutoReassignedFrom string                   `json:"auto_reassigned_from,omitempty"`
}

// NewAppointmentResponse maps a domain appointment.
func NewAppointmentResponse(a *domain.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		TokenNumber:        a.TokenNumber,
		CitizenID:          a.CitizenID,
		DepartmentID:       a.DepartmentID,
		ServiceID:          a.ServiceID,
		AppointmentDate:    domain.DateKey(a.AppointmentDate),
		TimeSlot:           a.TimeSlot,
		QueuePosition:      a.QueuePosition,
		Priority:           a.Priority,
		Flags:              a.PriorityFlags,
		Status:             a.Status,
		CounterID:          a.CounterID,
		Notes:              a.Notes,
		CreatedAt:          a.CreatedAt,
		CheckedInAt:        a.CheckedInAt,
		ActualStartTime:    a.ActualStartTime,
		ActualEndTime:      a.ActualEndTime,
		NoShowAt:           a.NoShowAt,
		CancelledAt:        a.CancelledAt,
		CancellationReason: a.CancellationReason,
		RescheduledFrom:    a.RescheduledFrom,
		AutoReassignedFrom: a.AutoReassignedFrom,
	}
}

// NewAppointmentList maps a slice.
func NewAppointmentList(appts []domain.Appointment) []AppointmentResponse {
	items := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		items = append(items, NewAppointmentResponse(&appts[i]))
	}
	return items
}

// CancellationResponse reports a cancellation and any reallocation.
type CancellationResponse struct {
	Appointment           AppointmentResponse `json:"appointment"`
	Policy                string              `json:"policy"`
	RefundPercentage      int                 `json:"refund_percentage"`
	CancellationFee       float64             `json:"cancellation_fee"`
	HoursUntilAppointment float64             `json:"hours_until_appointment"`
	Promotion             *PromotionResponse  `json:"promotion,omitempty"`
}

// RescheduleResponse links the original to its replacement.
type RescheduleResponse struct {
	Original    AppointmentResponse `json:"original"`
	Replacement AppointmentResponse `json:"replacement"`
	Promotion   *PromotionResponse  `json:"promotion,omitempty"`
}

// NoShowResponse reports a no-show and any reallocation.
type NoShowResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Promotion   *PromotionResponse  `json:"promotion,omitempty"`
}

// QueueStatusResponse tells a citizen where they stand.
type QueueStatusResponse struct {
	Appointment          AppointmentResponse `json:"appointment"`
	AheadCount           int                 `json:"ahead_count"`
	EstimatedWaitMinutes float64             `json:"estimated_wait_minutes"`
}
