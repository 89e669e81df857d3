package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/types"
)

// LedgerService owns every balance mutation. A debit or deposit is the
// balance update plus its transactions row committed together; callers never
// touch balance_credits directly.
type LedgerService interface {
	Deposit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, description string) error
	// Debit charges the user if and only if the balance covers the amount.
	// Returns ErrInsufficientCredits otherwise, with no partial effect.
	Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, description string) error
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Transaction, error)
}

type ledgerService struct {
	db              *gorm.DB
	log             *logger.Logger
	userRepo        repos.UserRepo
	transactionRepo repos.TransactionRepo
}

func NewLedgerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	transactionRepo repos.TransactionRepo,
) LedgerService {
	return &ledgerService{
		db:              db,
		log:             baseLog.With("service", "LedgerService"),
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
	}
}

func (s *ledgerService) Deposit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", apperrors.ErrValidation)
	}
	run := func(txx *gorm.DB) error {
		if err := s.userRepo.CreditBalance(ctx, txx, userID, amount); err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}
		_, err := s.transactionRepo.Create(ctx, txx, []*types.Transaction{{
			UserID:      userID,
			Amount:      amount,
			Type:        types.TransactionTypeCredit,
			Description: description,
		}})
		if err != nil {
			return fmt.Errorf("failed to record credit transaction: %w", err)
		}
		return nil
	}
	if tx != nil {
		return run(tx)
	}
	return s.db.WithContext(ctx).Transaction(run)
}

func (s *ledgerService) Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, description string) error {
	if amount < 0 {
		return fmt.Errorf("%w: debit amount must not be negative", apperrors.ErrValidation)
	}
	if amount == 0 {
		return nil
	}
	run := func(txx *gorm.DB) error {
		ok, err := s.userRepo.DebitBalance(ctx, txx, userID, amount)
		if err != nil {
			return fmt.Errorf("failed to debit balance: %w", err)
		}
		if !ok {
			return apperrors.ErrInsufficientCredits
		}
		_, err = s.transactionRepo.Create(ctx, txx, []*types.Transaction{{
			UserID:      userID,
			Amount:      amount,
			Type:        types.TransactionTypeDebit,
			Description: description,
		}})
		if err != nil {
			return fmt.Errorf("failed to record debit transaction: %w", err)
		}
		return nil
	}
	if tx != nil {
		return run(tx)
	}
	return s.db.WithContext(ctx).Transaction(run)
}

func (s *ledgerService) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, apperrors.ErrNotFound
	}
	return user.BalanceCredits, nil
}

func (s *ledgerService) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.transactionRepo.ListByUser(ctx, nil, userID, limit, offset)
}
