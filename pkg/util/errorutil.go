package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers. Each one is a distinct failure kind.
const (
	CodeSlotUnavailable           = "SLOT_UNAVAILABLE"
	CodeDuplicateBookingSameDay   = "DUPLICATE_BOOKING_SAME_DAY"
	CodeDepartmentNotFound        = "DEPARTMENT_NOT_FOUND"
	CodeAppointmentNotFound       = "APPOINTMENT_NOT_FOUND"
	CodeInvalidStatusTransition   = "INVALID_STATUS_TRANSITION"
	CodeNoAppointmentsInQueue     = "NO_APPOINTMENTS_IN_QUEUE"
	CodeCancellationWindowExpired = "CANCELLATION_WINDOW_EXPIRED"
	CodeReactivationWindowExpired = "REACTIVATION_WINDOW_EXPIRED"
	CodeSlotNoLongerAvailable     = "SLOT_NO_LONGER_AVAILABLE"
	CodeWaitlistEntryNotFound     = "WAITLIST_ENTRY_NOT_FOUND"
	CodeAlreadyOnWaitlist         = "ALREADY_ON_WAITLIST"
	CodeConcurrentModification    = "CONCURRENT_MODIFICATION"
	CodeValidationFailed          = "VALIDATION_FAILED"
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeForbidden                 = "FORBIDDEN"
	CodeNotFound                  = "NOT_FOUND"
	CodeInternal                  = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// IsKind reports whether err carries the given code.
func IsKind(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewSlotUnavailable(date, timeSlot string) error {
	return NewDomainError(CodeSlotUnavailable,
		fmt.Sprintf("No capacity left in slot %s on %s", timeSlot, date),
		http.StatusConflict,
		map[string]any{"date": date, "time_slot": timeSlot})
}

func NewDuplicateBookingSameDay(date string) error {
	return NewDomainError(CodeDuplicateBookingSameDay,
		fmt.Sprintf("You already have an active appointment on %s", date),
		http.StatusConflict,
		map[string]any{"date": date})
}

func NewDepartmentNotFound(departmentID string) error {
	return NewDomainError(CodeDepartmentNotFound, "Department not found",
		http.StatusNotFound, map[string]any{"department_id": departmentID})
}

func NewAppointmentNotFound(ref string) error {
	return NewDomainError(CodeAppointmentNotFound, "Appointment not found",
		http.StatusNotFound, map[string]any{"appointment": ref})
}

func NewInvalidStatusTransition(from, to string) error {
	return NewDomainError(CodeInvalidStatusTransition,
		fmt.Sprintf("Cannot move appointment from %s to %s", from, to),
		http.StatusConflict,
		map[string]any{"from": from, "to": to})
}

func NewNoAppointmentsInQueue() error {
	return NewDomainError(CodeNoAppointmentsInQueue, "No appointments waiting in queue", http.StatusNotFound, nil)
}

func NewCancellationWindowExpired(cutoffHours int) error {
	return NewDomainError(CodeCancellationWindowExpired,
		fmt.Sprintf("Cancellation not allowed within %d hours of appointment", cutoffHours),
		http.StatusUnprocessableEntity,
		map[string]any{"cutoff_hours": cutoffHours})
}

func NewReactivationWindowExpired(windowHours int) error {
	return NewDomainError(CodeReactivationWindowExpired,
		fmt.Sprintf("Reactivation is only possible within %d hours of being marked no-show", windowHours),
		http.StatusUnprocessableEntity,
		map[string]any{"window_hours": windowHours})
}

func NewSlotNoLongerAvailable(timeSlot string) error {
	return NewDomainError(CodeSlotNoLongerAvailable,
		fmt.Sprintf("Slot %s is no longer available", timeSlot),
		http.StatusConflict,
		map[string]any{"time_slot": timeSlot})
}

func NewWaitlistEntryNotFound(id string) error {
	return NewDomainError(CodeWaitlistEntryNotFound, "Waitlist entry not found",
		http.StatusNotFound, map[string]any{"waitlist_entry_id": id})
}

func NewAlreadyOnWaitlist() error {
	return NewDomainError(CodeAlreadyOnWaitlist, "You are already on the waitlist for this service and date",
		http.StatusConflict, nil)
}

func NewConcurrentModification(err error) error {
	return &DomainError{
		Code:       CodeConcurrentModification,
		Message:    "The queue changed while processing your request, please retry",
		HTTPStatus: http.StatusConflict,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
