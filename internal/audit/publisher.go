package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Publisher enqueues audit events onto the task queue.
type Publisher struct {
	client *asynq.Client
	logger *slog.Logger
	queue  string
}

// NewPublisher constructs a Publisher.
func NewPublisher(client *asynq.Client, logger *slog.Logger, queue string) *Publisher {
	if queue == "" {
		queue = "default"
	}
	return &Publisher{client: client, logger: logger, queue: queue}
}

// Record enqueues the event. Failures are logged, never propagated: audit
// delivery must not fail the request that produced the event.
func (p *Publisher) Record(ctx context.Context, ev Event) {
	if p == nil || p.client == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	task, err := NewRecordTask(ev)
	if err != nil {
		p.logger.Error("audit: marshal event", slog.Any("error", err))
		return
	}
	if _, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue)); err != nil {
		p.logger.Error("audit: enqueue event",
			slog.String("action", ev.Action),
			slog.Any("error", err))
	}
}
