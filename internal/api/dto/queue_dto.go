package dto

// CallNextRequest payload.
type CallNextRequest struct {
	CounterID string `json:"counter_id"`
}

// CompleteRequest payload.
type CompleteRequest struct {
	Notes string `json:"notes"`
}

// LiveQueueResponse is the counter board.
type LiveQueueResponse struct {
	DepartmentID string                `json:"department_id"`
	ServiceID    string                `json:"service_id"`
	Date         string                `json:"date"`
	NowServing   []AppointmentResponse `json:"now_serving"`
	Waiting      []AppointmentResponse `json:"waiting"`
	Upcoming     []AppointmentResponse `json:"upcoming"`
	Metrics      any                   `json:"metrics"`
}

// DepartmentResponse represents a department and its slot configuration.
type DepartmentResponse struct {
	ID                  string `json:"id"`
	Code                string `json:"code"`
	Name                string `json:"name"`
	WorkingStart        string `json:"working_start"`
	WorkingEnd          string `json:"working_end"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	MaxSlotsPerTimeSlot int    `json:"max_slots_per_time_slot"`
}
