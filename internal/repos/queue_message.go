package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/types"
)

// QueueMessageRepo is the durable at-least-once channel between the
// dispatcher, the generation worker and the result persister. A message is
// claimable when it is queued, when a previous attempt failed below the
// attempt ceiling and the retry delay has passed, or when a running consumer
// stopped heartbeating. Claiming locks the row with SKIP LOCKED so parallel
// consumers never receive the same message at the same time; redelivery after
// a crash is expected and consumers must tolerate it.
type QueueMessageRepo interface {
	Publish(ctx context.Context, tx *gorm.DB, msgs []*types.QueueMessage) ([]*types.QueueMessage, error)
	ClaimNext(ctx context.Context, tx *gorm.DB, queue string, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.QueueMessage, error)
	Ack(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Nack(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	MarkDead(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type queueMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueueMessageRepo(db *gorm.DB, baseLog *logger.Logger) QueueMessageRepo {
	return &queueMessageRepo{
		db:  db,
		log: baseLog.With("repo", "QueueMessageRepo"),
	}
}

func (r *queueMessageRepo) Publish(ctx context.Context, tx *gorm.DB, msgs []*types.QueueMessage) ([]*types.QueueMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(msgs) == 0 {
		return []*types.QueueMessage{}, nil
	}
	for _, m := range msgs {
		if m != nil && m.Status == "" {
			m.Status = types.QueueStatusQueued
		}
	}
	if err := transaction.WithContext(ctx).Create(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *queueMessageRepo) ClaimNext(ctx context.Context, tx *gorm.DB, queue string, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.QueueMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.QueueMessage
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var msg types.QueueMessage
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ?", queue).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.QueueStatusQueued, types.QueueStatusFailed, maxAttempts, retryCutoff, types.QueueStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&msg).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.QueueMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"status":       types.QueueStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		msg.Status = types.QueueStatusRunning
		msg.Attempts++
		claimed = &msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queueMessageRepo) Ack(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.setStatus(ctx, tx, id, types.QueueStatusDone, "")
}

func (r *queueMessageRepo) Nack(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	return r.setStatus(ctx, tx, id, types.QueueStatusFailed, errMsg)
}

func (r *queueMessageRepo) MarkDead(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	return r.setStatus(ctx, tx, id, types.QueueStatusDead, errMsg)
}

func (r *queueMessageRepo) setStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"locked_at":  nil,
		"updated_at": now,
	}
	if errMsg != "" {
		updates["last_error"] = errMsg
		updates["last_error_at"] = now
	}
	return transaction.WithContext(ctx).
		Model(&types.QueueMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *queueMessageRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.QueueMessage{}).
		Where("id = ? AND status = ?", id, types.QueueStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
