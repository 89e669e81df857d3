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
	"github.com/tortodelova/backend/internal/utils"
)

// PredictionService serves read access to predictions and owns the demo
// claim flow. Claiming a demo copies the artifact into the caller's own
// prefix and mints an owned row; the claimed flag on the demo row guarantees
// each demo is claimable exactly once.
type PredictionService interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.PredictionRequest, error)
	// GetByTaskIDForUser returns nil when the task has no row yet, which for a
	// freshly enqueued task means still in flight.
	GetByTaskIDForUser(ctx context.Context, userID uuid.UUID, taskID string) (*types.PredictionRequest, error)
	ListDemo(ctx context.Context, limit, offset int) ([]*types.PredictionRequest, error)
	GetDemoByTaskID(ctx context.Context, taskID string) (*types.PredictionRequest, error)
	ClaimDemoPrediction(ctx context.Context, userID uuid.UUID, demoTaskID string) (*types.PredictionRequest, error)
}

type predictionService struct {
	db             *gorm.DB
	log            *logger.Logger
	predictionRepo repos.PredictionRepo
	ledger         LedgerService
	bucket         BucketService
	notify         PredictionNotifier
}

func NewPredictionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	predictionRepo repos.PredictionRepo,
	ledger LedgerService,
	bucket BucketService,
	notify PredictionNotifier,
) PredictionService {
	return &predictionService{
		db:             db,
		log:            baseLog.With("service", "PredictionService"),
		predictionRepo: predictionRepo,
		ledger:         ledger,
		bucket:         bucket,
		notify:         notify,
	}
}

func (s *predictionService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.PredictionRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.predictionRepo.ListByUser(ctx, nil, userID, limit, offset)
}

func (s *predictionService) GetByTaskIDForUser(ctx context.Context, userID uuid.UUID, taskID string) (*types.PredictionRequest, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", apperrors.ErrValidation)
	}
	row, err := s.predictionRepo.GetByTaskID(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if row.UserID == nil || *row.UserID != userID {
		// Do not leak other users' tasks; indistinguishable from absent.
		return nil, apperrors.ErrNotFound
	}
	return row, nil
}

func (s *predictionService) ListDemo(ctx context.Context, limit, offset int) ([]*types.PredictionRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.predictionRepo.ListDemo(ctx, nil, limit, offset)
}

func (s *predictionService) GetDemoByTaskID(ctx context.Context, taskID string) (*types.PredictionRequest, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", apperrors.ErrValidation)
	}
	row, err := s.predictionRepo.GetDemoByTaskID(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperrors.ErrNotFound
	}
	return row, nil
}

func (s *predictionService) ClaimDemoPrediction(ctx context.Context, userID uuid.UUID, demoTaskID string) (*types.PredictionRequest, error) {
	if demoTaskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", apperrors.ErrValidation)
	}

	demo, err := s.predictionRepo.GetDemoByTaskID(ctx, nil, demoTaskID)
	if err != nil {
		return nil, err
	}
	if demo == nil {
		return nil, apperrors.ErrNotFound
	}
	if demo.Status != types.PredictionStatusSuccess || demo.Claimed {
		return nil, apperrors.ErrNotClaimable
	}

	newTaskID := uuid.New().String()
	owner := userID
	dstKey := StorageKeyFor(&owner, newTaskID)

	// Copy before the claim transaction. The copy is an overwrite-safe
	// duplication; if the claim below loses the race the object is orphaned
	// but nothing user-visible happened.
	if err := s.bucket.CopyObject(ctx, demo.StorageKey, dstKey); err != nil {
		return nil, fmt.Errorf("failed to copy demo artifact: %w", err)
	}

	claimCost := utils.GetEnvAsInt("DEMO_CLAIM_COST_CREDITS", 0, s.log)
	if claimCost < 0 {
		claimCost = 0
	}

	var claimed *types.PredictionRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, mErr := s.predictionRepo.MarkClaimed(ctx, tx, demo.ID)
		if mErr != nil {
			return mErr
		}
		if !won {
			return apperrors.ErrNotClaimable
		}

		if claimCost > 0 {
			if dErr := s.ledger.Debit(ctx, tx, userID, claimCost,
				fmt.Sprintf("Demo claim %s", demoTaskID)); dErr != nil {
				return dErr
			}
		}

		row := &types.PredictionRequest{
			UserID:       &owner,
			TaskID:       newTaskID,
			PromptRU:     demo.PromptRU,
			PromptEN:     demo.PromptEN,
			ModelID:      demo.ModelID,
			StorageKey:   dstKey,
			PublicURL:    s.bucket.GetPublicURL(dstKey),
			Status:       types.PredictionStatusSuccess,
			CreditsSpent: claimCost,
		}
		if _, cErr := s.predictionRepo.Create(ctx, tx, []*types.PredictionRequest{row}); cErr != nil {
			return cErr
		}
		claimed = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Demo prediction claimed",
		"demo_task_id", demoTaskID,
		"task_id", newTaskID,
		"user_id", userID,
		"cost_credits", claimCost,
	)
	if s.notify != nil {
		s.notify.PredictionClaimed(userID, claimed)
	}
	return claimed, nil
}
