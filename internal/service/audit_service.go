package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/repository"
)

// AuditAction describes one auditable change.
type AuditAction struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Changes    map[string]any
	Reason     string
}

// AuditLogger records actions. Implementations must never fail the caller.
type AuditLogger interface {
	LogAction(ctx context.Context, action AuditAction)
}

type nopAudit struct{}

func (nopAudit) LogAction(context.Context, AuditAction) {}

// AuditService writes audit entries from a buffered queue on a background goroutine.
// A full queue or a failed write drops the entry.
type AuditService struct {
	repo   repository.AuditRepository
	queue  chan domain.AuditEntry
	logger *zap.Logger
	clock  func() time.Time

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAuditService starts the writer goroutine.
func NewAuditService(repo repository.AuditRepository, bufferSize int, logger *zap.Logger) *AuditService {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{
		repo:   repo,
		queue:  make(chan domain.AuditEntry, bufferSize),
		logger: logger,
		clock:  time.Now,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *AuditService) worker() {
	defer s.wg.Done()
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Create(ctx, &entry); err != nil {
			s.logger.Warn("audit write failed",
				zap.String("action", entry.Action),
				zap.String("entity_id", entry.EntityID),
				zap.Error(err))
		}
		cancel()
	}
}

// LogAction enqueues the action without blocking.
func (s *AuditService) LogAction(_ context.Context, action AuditAction) {
	entry := domain.AuditEntry{
		ID:         uuid.NewString(),
		Action:     action.Action,
		EntityType: action.EntityType,
		EntityID:   action.EntityID,
		Changes:    action.Changes,
		Reason:     action.Reason,
		CreatedAt:  s.clock(),
	}
	if action.UserID != "" {
		userID := action.UserID
		entry.UserID = &userID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.logger.Warn("audit queue full, dropping entry", zap.String("action", action.Action))
	}
}

// Close flushes queued entries.
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
