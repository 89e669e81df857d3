package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/types"
)

type UserService interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Transaction, error)
	// AdminDeposit credits a user's balance from the admin surface.
	AdminDeposit(ctx context.Context, userID uuid.UUID, amount int, description string) (*types.User, error)
}

type userService struct {
	db       *gorm.DB
	log      *logger.Logger
	userRepo repos.UserRepo
	ledger   LedgerService
	notify   PredictionNotifier
}

func NewUserService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	ledger LedgerService,
	notify PredictionNotifier,
) UserService {
	return &userService{
		db:       db,
		log:      baseLog.With("service", "UserService"),
		userRepo: userRepo,
		ledger:   ledger,
		notify:   notify,
	}
}

func (s *userService) GetByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

func (s *userService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Transaction, error) {
	return s.ledger.History(ctx, userID, limit, offset)
}

func (s *userService) AdminDeposit(ctx context.Context, userID uuid.UUID, amount int, description string) (*types.User, error) {
	if description == "" {
		description = "Admin deposit"
	}
	if err := s.ledger.Deposit(ctx, nil, userID, amount, description); err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrNotFound
	}
	s.log.Info("Admin deposit applied", "user_id", userID, "amount", amount)
	if s.notify != nil {
		s.notify.BalanceChanged(userID, user.BalanceCredits)
	}
	return user, nil
}
