// Package audit emits decision and mutation outcomes as background events.
// How they are persisted or displayed is external to the engine; this package
// only defines the event shape and the queue plumbing.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task types handled by the worker.
const (
	TaskRecord = "audit:record"
	TaskPrune  = "audit:prune"
)

// Event is a single audit record.
type Event struct {
	ID       string         `json:"id"`
	ActorID  int64          `json:"actorId"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Recorder publishes audit events. Implementations must never fail the
// calling request; delivery problems are logged and dropped.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop is a Recorder that discards events.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) {}

// NewRecordTask builds the asynq task carrying an event.
func NewRecordTask(ev Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, data), nil
}

// PrunePayload describes an audit retention run.
type PrunePayload struct {
	OlderThan time.Duration `json:"olderThan"`
}

// NewPruneTask builds the asynq task that prunes aged audit rows.
func NewPruneTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PrunePayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrune, data), nil
}
