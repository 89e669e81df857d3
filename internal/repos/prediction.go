package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/types"
)

type PredictionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, predictions []*types.PredictionRequest) ([]*types.PredictionRequest, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PredictionRequest, error)
	GetByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*types.PredictionRequest, error)
	// GetDemoByTaskID only matches rows with no owner.
	GetDemoByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*types.PredictionRequest, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.PredictionRequest, error)
	// ListDemo returns unclaimed ownerless rows, the public demo gallery.
	ListDemo(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.PredictionRequest, error)
	// MarkClaimed flips claimed false->true and reports whether this call won
	// the flip. Losing the race means the demo row was already claimed.
	MarkClaimed(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type predictionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPredictionRepo(db *gorm.DB, baseLog *logger.Logger) PredictionRepo {
	return &predictionRepo{
		db:  db,
		log: baseLog.With("repo", "PredictionRepo"),
	}
}

func (r *predictionRepo) Create(ctx context.Context, tx *gorm.DB, predictions []*types.PredictionRequest) ([]*types.PredictionRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(predictions) == 0 {
		return []*types.PredictionRequest{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&predictions).Error; err != nil {
		return nil, err
	}
	return predictions, nil
}

func (r *predictionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PredictionRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var prediction types.PredictionRequest
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&prediction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prediction, nil
}

func (r *predictionRepo) GetByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*types.PredictionRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var prediction types.PredictionRequest
	err := transaction.WithContext(ctx).
		Where("task_id = ?", taskID).
		First(&prediction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prediction, nil
}

func (r *predictionRepo) GetDemoByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*types.PredictionRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var prediction types.PredictionRequest
	err := transaction.WithContext(ctx).
		Where("task_id = ? AND user_id IS NULL", taskID).
		First(&prediction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prediction, nil
}

func (r *predictionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.PredictionRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PredictionRequest
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *predictionRepo) ListDemo(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.PredictionRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PredictionRequest
	if err := transaction.WithContext(ctx).
		Where("user_id IS NULL AND claimed = ? AND status = ?", false, types.PredictionStatusSuccess).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *predictionRepo) MarkClaimed(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.PredictionRequest{}).
		Where("id = ? AND claimed = ?", id, false).
		Update("claimed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
