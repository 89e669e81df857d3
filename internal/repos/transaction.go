package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/types"
)

type TransactionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, txs []*types.Transaction) ([]*types.Transaction, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.Transaction, error)
	// SumSigned returns credits minus debits for a user. The result must equal
	// the user's balance_credits; the ledger audit test relies on it.
	SumSigned(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error)
}

type transactionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTransactionRepo(db *gorm.DB, baseLog *logger.Logger) TransactionRepo {
	return &transactionRepo{
		db:  db,
		log: baseLog.With("repo", "TransactionRepo"),
	}
}

func (r *transactionRepo) Create(ctx context.Context, tx *gorm.DB, txs []*types.Transaction) ([]*types.Transaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(txs) == 0 {
		return []*types.Transaction{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *transactionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.Transaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Transaction
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

func (r *transactionRepo) SumSigned(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sum *int
	err := transaction.WithContext(ctx).
		Model(&types.Transaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0)", types.TransactionTypeCredit).
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
