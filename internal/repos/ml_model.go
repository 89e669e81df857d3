package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/types"
)

type MLModelRepo interface {
	Create(ctx context.Context, tx *gorm.DB, models []*types.MLModel) ([]*types.MLModel, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MLModel, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.MLModel, error)
	// GetFirstActiveByType resolves "the" model used for new jobs of a type.
	// Read per request, never cached process-wide.
	GetFirstActiveByType(ctx context.Context, tx *gorm.DB, modelType string) (*types.MLModel, error)
	List(ctx context.Context, tx *gorm.DB, modelType string, activeOnly bool, limit, offset int) ([]*types.MLModel, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type mlModelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMLModelRepo(db *gorm.DB, baseLog *logger.Logger) MLModelRepo {
	return &mlModelRepo{
		db:  db,
		log: baseLog.With("repo", "MLModelRepo"),
	}
}

func (r *mlModelRepo) Create(ctx context.Context, tx *gorm.DB, models []*types.MLModel) ([]*types.MLModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(models) == 0 {
		return []*types.MLModel{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}

func (r *mlModelRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MLModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var model types.MLModel
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *mlModelRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.MLModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var model types.MLModel
	err := transaction.WithContext(ctx).
		Where("name = ?", name).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *mlModelRepo) GetFirstActiveByType(ctx context.Context, tx *gorm.DB, modelType string) (*types.MLModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var model types.MLModel
	err := transaction.WithContext(ctx).
		Where("model_type = ? AND is_active = ?", modelType, true).
		Order("created_at ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *mlModelRepo) List(ctx context.Context, tx *gorm.DB, modelType string, activeOnly bool, limit, offset int) ([]*types.MLModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.MLModel{})
	if modelType != "" {
		q = q.Where("model_type = ?", modelType)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []*types.MLModel
	if err := q.Order("created_at ASC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mlModelRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.MLModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}
