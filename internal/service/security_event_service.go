package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/pkg/jobs"
	"github.com/noah-isme/smorting-auth/pkg/middleware/requestid"
)

const securityEventJobType = "security_event"

type securityEventRepository interface {
	Append(ctx context.Context, event *models.SecurityEvent) error
}

// SecurityEventConfig sizes the asynchronous writer.
type SecurityEventConfig struct {
	Async        bool
	Workers      int
	BufferSize   int
	MaxRetries   int
	RetryDelay   time.Duration
	WriteTimeout time.Duration
}

// SecurityEventService is the audit sink. Writes go through the job queue when it is running
// and fall back to a synchronous insert otherwise.
type SecurityEventService struct {
	repo         securityEventRepository
	queue        *jobs.Queue
	maxRetries   int
	writeTimeout time.Duration
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewSecurityEventService constructs the sink.
func NewSecurityEventService(repo securityEventRepository, cfg SecurityEventConfig, metrics *MetricsService, logger *zap.Logger) *SecurityEventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	s := &SecurityEventService{
		repo:         repo,
		maxRetries:   cfg.MaxRetries,
		writeTimeout: cfg.WriteTimeout,
		metrics:      metrics,
		logger:       logger,
	}
	if cfg.Async {
		s.queue = jobs.NewQueue("security-events", s.handle, jobs.QueueConfig{
			Workers:    cfg.Workers,
			BufferSize: cfg.BufferSize,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Logger:     logger,
		})
	}
	return s
}

// Start launches the background writers.
func (s *SecurityEventService) Start(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx)
	}
}

// Stop flushes buffered events and stops the writers.
func (s *SecurityEventService) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// Record stamps and persists an event. Failures are logged, never returned, so auditing
// cannot block authentication.
func (s *SecurityEventService) Record(ctx context.Context, event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = requestid.FromContext(ctx)
	}

	if s.queue != nil && s.queue.Running() {
		err := s.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: securityEventJobType, Payload: event})
		if err == nil {
			return
		}
		s.logger.Warn("security event queue unavailable, writing inline", zap.Error(err))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	if err := s.repo.Append(writeCtx, &event); err != nil {
		s.metrics.RecordDroppedEvent()
		s.logger.Error("failed to persist security event",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

func (s *SecurityEventService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.SecurityEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.repo.Append(writeCtx, &event); err != nil {
		if job.Attempt >= s.maxRetries {
			s.metrics.RecordDroppedEvent()
		}
		return err
	}
	return nil
}
