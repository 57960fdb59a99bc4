package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/adapter/queue"
	"github.com/seu-repo/voxdesk/internal/domain"
	"github.com/seu-repo/voxdesk/internal/observability/telemetry"
	"github.com/seu-repo/voxdesk/internal/ports"
)

const DefaultSubject = "calls.completed"

// Service stores finished calls and announces them on the queue. Either side
// may be nil, in which case that step is skipped.
type Service struct {
	repo    ports.CallLogRepository
	mq      queue.MessageQueue
	subject string
	log     *zap.Logger
}

func NewService(repo ports.CallLogRepository, mq queue.MessageQueue, subject string, log *zap.Logger) *Service {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Service{
		repo:    repo,
		mq:      mq,
		subject: subject,
		log:     log,
	}
}

// RecordCompleted saves the call and publishes CallCompleted. The publish is
// attempted even when the save fails. A call leg that already has a log is
// skipped, so a repeated call.hangup is neither stored nor announced twice.
func (s *Service) RecordCompleted(ctx context.Context, record *domain.CallLog) error {
	if s.alreadyRecorded(ctx, record.CallControlID) {
		s.log.Info("Call already recorded, skipping duplicate hangup",
			zap.String("call_control_id", record.CallControlID),
		)
		return nil
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	var errs []error

	if s.repo != nil {
		if err := s.repo.Save(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("failed to save call log: %w", err))
		}
	}

	if s.mq != nil {
		occurredAt := time.Now().UTC()
		if record.EndedAt != nil {
			occurredAt = record.EndedAt.UTC()
		}

		data, err := json.Marshal(domain.CallCompleted{
			EventID:         uuid.NewString(),
			BusinessID:      record.BusinessID,
			CallControlID:   record.CallControlID,
			DurationSeconds: record.DurationSeconds,
			HangupCause:     record.HangupCause,
			OccurredAt:      occurredAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal call completed event: %w", err))
		} else if err := s.mq.Publish(s.subject, data); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish call completed event: %w", err))
		}
	}

	return errors.Join(errs...)
}

// alreadyRecorded treats a failed lookup as not recorded.
func (s *Service) alreadyRecorded(ctx context.Context, callControlID string) bool {
	if s.repo == nil || callControlID == "" {
		return false
	}
	existing, err := s.repo.FindByCallControlID(ctx, callControlID)
	if err != nil {
		s.log.Warn("Failed to check for existing call log",
			zap.String("call_control_id", callControlID),
			zap.Error(err),
		)
		return false
	}
	return existing != nil
}

// HandleCompleted consumes CallCompleted messages.
func (s *Service) HandleCompleted(data []byte) error {
	var event domain.CallCompleted
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to decode call completed event: %w", err)
	}

	telemetry.CompletedCallsConsumed.Inc()
	s.log.Info("Call completed",
		zap.String("event_id", event.EventID),
		zap.String("business_id", event.BusinessID),
		zap.String("call_control_id", event.CallControlID),
		zap.Int("duration_seconds", event.DurationSeconds),
		zap.String("hangup_cause", event.HangupCause),
	)
	return nil
}

// Start subscribes HandleCompleted to the completed-calls subject.
func (s *Service) Start() error {
	if s.mq == nil {
		return nil
	}
	if err := s.mq.Subscribe(s.subject, s.HandleCompleted); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.log.Info("Listening for completed calls", zap.String("subject", s.subject))
	return nil
}
