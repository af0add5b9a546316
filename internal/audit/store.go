package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit events into audit_logs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes one event.
func (s *Store) Insert(ctx context.Context, ev Event) error {
	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.ActorID, ev.Action, ev.Entity, ev.EntityID, metaJSON, ev.At)
	return err
}

// DeleteOlderThan removes events past the retention window.
func (s *Store) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NewRecordHandler returns the asynq handler persisting TaskRecord events.
func NewRecordHandler(store *Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var ev Event
		if err := json.Unmarshal(t.Payload(), &ev); err != nil {
			logger.Error("audit: decode record task", slog.Any("error", err))
			return asynq.SkipRetry
		}
		return store.Insert(ctx, ev)
	}
}

// NewPruneHandler returns the asynq handler for retention pruning.
func NewPruneHandler(store *Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PrunePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("audit: decode prune task", slog.Any("error", err))
			return asynq.SkipRetry
		}
		removed, err := store.DeleteOlderThan(ctx, payload.OlderThan)
		if err != nil {
			return err
		}
		logger.Info("audit: pruned events", slog.Int64("removed", removed))
		return nil
	}
}
