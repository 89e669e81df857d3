package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/types"
)

const maxPromptLen = 1000

// PredictionQueueService is the request-time entry point of the generation
// pipeline. Enqueue validates the prompt, resolves the active generation
// model, gates on the caller's balance and publishes a job. No money moves
// here and no prediction row is written; both happen once the result comes
// back through the persister, so an accepted task that never completes costs
// the user nothing.
type PredictionQueueService interface {
	// Enqueue returns the task_id the caller can poll. A nil userID enqueues a
	// demo generation that skips the balance gate. A nil modelID resolves the
	// active generation model; an explicit one must be active and of the
	// generation type.
	Enqueue(ctx context.Context, userID *uuid.UUID, promptRU string, modelID *uuid.UUID) (string, *types.MLModel, error)
}

type predictionQueueService struct {
	db        *gorm.DB
	log       *logger.Logger
	userRepo  repos.UserRepo
	modelRepo repos.MLModelRepo
	queueRepo repos.QueueMessageRepo
}

func NewPredictionQueueService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	modelRepo repos.MLModelRepo,
	queueRepo repos.QueueMessageRepo,
) PredictionQueueService {
	return &predictionQueueService{
		db:        db,
		log:       baseLog.With("service", "PredictionQueueService"),
		userRepo:  userRepo,
		modelRepo: modelRepo,
		queueRepo: queueRepo,
	}
}

func (s *predictionQueueService) Enqueue(ctx context.Context, userID *uuid.UUID, promptRU string, modelID *uuid.UUID) (string, *types.MLModel, error) {
	promptRU = strings.TrimSpace(promptRU)
	if promptRU == "" {
		return "", nil, fmt.Errorf("%w: prompt must not be empty", apperrors.ErrValidation)
	}
	if utf8.RuneCountInString(promptRU) > maxPromptLen {
		return "", nil, fmt.Errorf("%w: prompt exceeds %d characters", apperrors.ErrValidation, maxPromptLen)
	}

	model, err := s.resolveModel(ctx, modelID)
	if err != nil {
		return "", nil, err
	}

	if userID != nil {
		user, uErr := s.userRepo.GetByID(ctx, nil, *userID)
		if uErr != nil {
			return "", nil, fmt.Errorf("failed to read balance: %w", uErr)
		}
		if user == nil {
			return "", nil, apperrors.ErrNotFound
		}
		if user.BalanceCredits < model.CostCredits {
			return "", nil, apperrors.ErrInsufficientCredits
		}
	}

	taskID := uuid.New().String()
	job := types.GenerationJob{
		TaskID:      taskID,
		UserID:      userID,
		PromptRU:    promptRU,
		ModelID:     model.ID,
		CostCredits: model.CostCredits,
	}
	payload, mErr := json.Marshal(job)
	if mErr != nil {
		return "", nil, fmt.Errorf("failed to encode generation job: %w", mErr)
	}

	_, err = s.queueRepo.Publish(ctx, nil, []*types.QueueMessage{{
		Queue:      types.QueueMLTasks,
		RoutingKey: types.RoutingKeyGenerate,
		Payload:    datatypes.JSON(payload),
	}})
	if err != nil {
		return "", nil, fmt.Errorf("failed to publish generation job: %w", err)
	}

	s.log.Info("Generation job enqueued",
		"task_id", taskID,
		"model", model.Name,
		"cost_credits", model.CostCredits,
		"demo", userID == nil,
	)
	return taskID, model, nil
}

func (s *predictionQueueService) resolveModel(ctx context.Context, modelID *uuid.UUID) (*types.MLModel, error) {
	if modelID == nil {
		model, err := s.modelRepo.GetFirstActiveByType(ctx, nil, types.MLModelTypeImageGeneration)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve generation model: %w", err)
		}
		if model == nil {
			return nil, apperrors.ErrModelNotConfigured
		}
		return model, nil
	}
	model, err := s.modelRepo.GetByID(ctx, nil, *modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve generation model: %w", err)
	}
	if model == nil || !model.IsActive || model.ModelType != types.MLModelTypeImageGeneration {
		return nil, apperrors.ErrModelNotConfigured
	}
	return model, nil
}
