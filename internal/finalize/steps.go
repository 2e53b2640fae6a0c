package finalize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// Notification is published when a batch finalizes.
type Notification struct {
	BatchID     string    `json:"batch_id"`
	Expected    int64     `json:"expected"`
	ArmedAt     time.Time `json:"armed_at"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// NotifyStep publishes a Notification to a topic.
type NotifyStep struct {
	publisher fleet.Publisher
	topic     string
	clock     fleet.Clock
}

// NewNotifyStep builds a NotifyStep.
func NewNotifyStep(publisher fleet.Publisher, topic string, clock fleet.Clock) *NotifyStep {
	return &NotifyStep{publisher: publisher, topic: topic, clock: clock}
}

// Name implements Step.
func (*NotifyStep) Name() string { return "notify" }

// Run implements Step.
func (s *NotifyStep) Run(ctx context.Context, batch fleet.Batch) error {
	if _, err := s.publisher.Publish(ctx, s.topic, Notification{
		BatchID:     batch.ID,
		Expected:    batch.Expected,
		ArmedAt:     batch.ArmedAt,
		FinalizedAt: s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}

// LogStep records that the batch finished.
type LogStep struct {
	logger *zap.Logger
}

// NewLogStep builds a LogStep.
func NewLogStep(logger *zap.Logger) *LogStep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStep{logger: logger}
}

// Name implements Step.
func (*LogStep) Name() string { return "log" }

// Run implements Step.
func (s *LogStep) Run(_ context.Context, batch fleet.Batch) error {
	s.logger.Info("all tasks completed",
		zap.String("batch_id", batch.ID),
		zap.Int64("expected", batch.Expected),
	)
	return nil
}

// Attributes tags the Pub/Sub message with the batch id.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"batch_id": n.BatchID}
}
