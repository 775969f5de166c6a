package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/civicq/queue-service/internal/domain"
)

// MemoryStore is a process-local Storage used when no database is configured and in tests.
type MemoryStore struct {
	mu           sync.RWMutex
	appointments map[string]*domain.Appointment
	waitlist     map[string]*domain.WaitlistEntry
	departments  map[string]*domain.Department
	audit        []domain.AuditEntry
	reminders    map[string]domain.ReminderLog
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[string]*domain.Appointment),
		waitlist:     make(map[string]*domain.WaitlistEntry),
		departments:  make(map[string]*domain.Department),
		reminders:    make(map[string]domain.ReminderLog),
	}
}

// Appointments exposes the store as an AppointmentRepository.
func (s *MemoryStore) Appointments() AppointmentRepository { return memAppointments{s} }

// Waitlist exposes the store as a WaitlistRepository.
func (s *MemoryStore) Waitlist() WaitlistRepository { return memWaitlist{s} }

// Departments exposes the store as a DepartmentRepository.
func (s *MemoryStore) Departments() DepartmentRepository { return memDepartments{s} }

// Audit exposes the store as an AuditRepository.
func (s *MemoryStore) Audit() AuditRepository { return memAudit{s} }

// Reminders exposes the store as a ReminderRepository.
func (s *MemoryStore) Reminders() ReminderRepository { return memReminders{s} }

// PutDepartment seeds or replaces a department.
func (s *MemoryStore) PutDepartment(dept domain.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := dept
	s.departments[dept.ID] = &cp
}

// AuditEntries returns a copy of the recorded audit trail.
func (s *MemoryStore) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.audit...)
}

type memAppointments struct{ s *MemoryStore }

func (m memAppointments) Create(_ context.Context, appt *domain.Appointment, shifts []PositionUpdate) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if appt.Version == 0 {
		appt.Version = 1
	}
	m.s.appointments[appt.ID] = appt.Clone()
	m.s.shiftAppointments(shifts)
	return nil
}

func (m memAppointments) Update(_ context.Context, appt *domain.Appointment, shifts []PositionUpdate) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	current, ok := m.s.appointments[appt.ID]
	if !ok || current.Version != appt.Version {
		return ErrVersionConflict
	}
	appt.Version++
	m.s.appointments[appt.ID] = appt.Clone()
	m.s.shiftAppointments(shifts)
	return nil
}

func (s *MemoryStore) shiftAppointments(shifts []PositionUpdate) {
	for _, shift := range shifts {
		if appt, ok := s.appointments[shift.ID]; ok {
			appt.QueuePosition = shift.Position
			appt.Version++
		}
	}
}

func (m memAppointments) GetByID(_ context.Context, id string) (*domain.Appointment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	appt, ok := m.s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return appt.Clone(), nil
}

func (m memAppointments) GetByToken(_ context.Context, token string, date time.Time) (*domain.Appointment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, appt := range m.s.appointments {
		if appt.TokenNumber == token && domain.SameDate(appt.AppointmentDate, date) {
			return appt.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m memAppointments) ListByDate(_ context.Context, date time.Time) ([]domain.Appointment, error) {
	return m.s.listAppointments(func(a *domain.Appointment) bool {
		return domain.SameDate(a.AppointmentDate, date)
	}), nil
}

func (m memAppointments) ListByDepartmentDate(_ context.Context, departmentID string, date time.Time) ([]domain.Appointment, error) {
	return m.s.listAppointments(func(a *domain.Appointment) bool {
		return a.DepartmentID == departmentID && domain.SameDate(a.AppointmentDate, date)
	}), nil
}

func (s *MemoryStore) listAppointments(match func(*domain.Appointment) bool) []domain.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Appointment
	for _, appt := range s.appointments {
		if match(appt) {
			result = append(result, *appt.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

type memWaitlist struct{ s *MemoryStore }

func (m memWaitlist) Create(_ context.Context, entry *domain.WaitlistEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if entry.Version == 0 {
		entry.Version = 1
	}
	m.s.waitlist[entry.ID] = entry.Clone()
	return nil
}

func (m memWaitlist) Update(_ context.Context, entry *domain.WaitlistEntry, shifts []PositionUpdate) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	current, ok := m.s.waitlist[entry.ID]
	if !ok || current.Version != entry.Version {
		return ErrVersionConflict
	}
	entry.Version++
	m.s.waitlist[entry.ID] = entry.Clone()
	for _, shift := range shifts {
		if other, ok := m.s.waitlist[shift.ID]; ok {
			other.Position = shift.Position
			other.Version++
		}
	}
	return nil
}

func (m memWaitlist) GetByID(_ context.Context, id string) (*domain.WaitlistEntry, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	entry, ok := m.s.waitlist[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (m memWaitlist) ListByBucket(_ context.Context, departmentID, serviceID string, date time.Time) ([]domain.WaitlistEntry, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var result []domain.WaitlistEntry
	for _, entry := range m.s.waitlist {
		if entry.DepartmentID == departmentID && entry.ServiceID == serviceID && domain.SameDate(entry.PreferredDate, date) {
			result = append(result, *entry.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Position != result[j].Position {
			return result[i].Position < result[j].Position
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

type memDepartments struct{ s *MemoryStore }

func (m memDepartments) GetByID(_ context.Context, id string) (*domain.Department, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	dept, ok := m.s.departments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *dept
	return &cp, nil
}

func (m memDepartments) ListActive(_ context.Context) ([]domain.Department, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var result []domain.Department
	for _, dept := range m.s.departments {
		if dept.IsActive {
			result = append(result, *dept)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

type memAudit struct{ s *MemoryStore }

func (m memAudit) Create(_ context.Context, entry *domain.AuditEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.audit = append(m.s.audit, *entry)
	return nil
}

type memReminders struct{ s *MemoryStore }

func (m memReminders) MarkSent(_ context.Context, log *domain.ReminderLog) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.reminders[log.AppointmentID]; exists {
		return false, nil
	}
	m.s.reminders[log.AppointmentID] = *log
	return true, nil
}
