// Package pubsub implements the completion-notification publisher: once a
// Coordinator's job reaches a terminal state, a CompletionNotification is
// published to a Pub/Sub topic so downstream consumers (a dashboard, an
// on-call alert) don't have to poll the control surface.
package pubsub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// CompletionNotification is the payload published for a terminal job.
type CompletionNotification struct {
	SourceID   string            `json:"source_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Progress   pipeline.Progress `json:"progress"`
}

// Publisher is the narrow surface Notifier depends on. Both
// internal/publisher/pubsub.Publisher (production, backed by a real
// Pub/Sub topic) and internal/publisher/memory.Publisher (local runs,
// tests) satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier adapts a generic Pub/Sub publisher into a
// coordinator.CompletionNotifier. NotifyCompletion never blocks the
// caller: publishing happens on a detached goroutine bounded by its own
// timeout, since a slow or unreachable topic must never stall the
// Coordinator's dispatch loop.
type Notifier struct {
	publisher Publisher
	topic     string
	timeout   time.Duration
	logger    *zap.Logger
}

// New builds a Notifier around any Publisher: pass an
// internal/publisher/pubsub.Publisher in production or an
// internal/publisher/memory.Publisher for local runs and tests. topic is a
// caller-supplied logical name recorded alongside publish failures.
func New(p Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: p, topic: topic, timeout: 10 * time.Second, logger: logger.Named("queue.pubsub")}
}

// NotifyCompletion implements coordinator.CompletionNotifier.
func (n *Notifier) NotifyCompletion(_ context.Context, sourceID string, snapshot pipeline.Progress) {
	if n == nil || n.publisher == nil {
		return
	}
	notification := CompletionNotification{
		SourceID:   sourceID,
		OccurredAt: time.Now().UTC(),
		Progress:   snapshot,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if _, err := n.publisher.Publish(ctx, n.topic, notification); err != nil {
			n.logger.Error("publish completion notification failed",
				zap.String("source_id", sourceID),
				zap.String("topic", n.topic),
				zap.Error(err),
			)
		}
	}()
}
