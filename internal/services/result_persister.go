package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/types"
	"github.com/tortodelova/backend/internal/utils"
)

// ResultPersisterService is the single writer of prediction rows and the only
// place a generation charges credits. The task_id unique index is the
// idempotency boundary: however many times an outcome is delivered, exactly
// one row exists and the user is debited exactly once, because the debit and
// the insert commit in the same transaction.
type ResultPersisterService struct {
	db             *gorm.DB
	log            *logger.Logger
	queueRepo      repos.QueueMessageRepo
	predictionRepo repos.PredictionRepo
	ledger         LedgerService
	notify         PredictionNotifier
}

func NewResultPersisterService(
	db *gorm.DB,
	baseLog *logger.Logger,
	queueRepo repos.QueueMessageRepo,
	predictionRepo repos.PredictionRepo,
	ledger LedgerService,
	notify PredictionNotifier,
) *ResultPersisterService {
	return &ResultPersisterService{
		db:             db,
		log:            baseLog.With("component", "ResultPersister"),
		queueRepo:      queueRepo,
		predictionRepo: predictionRepo,
		ledger:         ledger,
		notify:         notify,
	}
}

func (s *ResultPersisterService) Start(ctx context.Context) {
	concurrency := utils.GetEnvAsInt("DB_WORKER_CONCURRENCY", 2, s.log)
	if concurrency < 1 {
		concurrency = 1
	}
	s.log.Info("Starting result persister pool", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go s.runLoop(ctx, workerID)
	}
}

func (s *ResultPersisterService) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	maxAttempts := utils.GetEnvAsInt("DB_MAX_ATTEMPTS", 5, s.log)
	retryDelay := 10 * time.Second
	staleRunning := 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Result persister loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			msg, err := s.queueRepo.ClaimNext(ctx, nil, types.QueueDBTasks, maxAttempts, retryDelay, staleRunning)
			if err != nil {
				s.log.Warn("ClaimNext failed", "worker_id", workerID, "error", err)
				continue
			}
			if msg == nil {
				continue
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("Persister panic",
							"worker_id", workerID,
							"message_id", msg.ID,
							"panic", r,
						)
						_ = s.queueRepo.Nack(ctx, nil, msg.ID, fmt.Sprintf("panic: %v", r))
					}
				}()
				s.handle(ctx, workerID, msg, maxAttempts)
			}()
		}
	}
}

func (s *ResultPersisterService) handle(ctx context.Context, workerID int, msg *types.QueueMessage, maxAttempts int) {
	var outcome types.GenerationOutcome
	if err := json.Unmarshal(msg.Payload, &outcome); err != nil {
		s.log.Error("Undecodable outcome", "message_id", msg.ID, "error", err)
		_ = s.queueRepo.MarkDead(ctx, nil, msg.ID, fmt.Sprintf("undecodable payload: %v", err))
		return
	}

	log := s.log.With("worker_id", workerID, "task_id", outcome.TaskID, "attempt", msg.Attempts)

	saved, err := s.SavePredictionResult(ctx, &outcome)
	if err != nil {
		if msg.Attempts >= maxAttempts {
			log.Error("Persist attempts exhausted", "error", err)
			_ = s.queueRepo.MarkDead(ctx, nil, msg.ID, err.Error())
			return
		}
		log.Warn("Persist failed, releasing for retry", "error", err)
		_ = s.queueRepo.Nack(ctx, nil, msg.ID, err.Error())
		return
	}

	if ackErr := s.queueRepo.Ack(ctx, nil, msg.ID); ackErr != nil {
		log.Warn("Ack failed after persist", "error", ackErr)
	}
	if saved != nil {
		log.Info("Prediction persisted", "status", saved.Status, "credits_spent", saved.CreditsSpent)
		s.notifyUpdated(saved)
	}
}

// SavePredictionResult applies one outcome. Returns the row written by this
// call, or nil when an earlier delivery already wrote it.
func (s *ResultPersisterService) SavePredictionResult(ctx context.Context, outcome *types.GenerationOutcome) (*types.PredictionRequest, error) {
	if outcome.TaskID == "" {
		return nil, fmt.Errorf("%w: outcome missing task_id", apperrors.ErrValidation)
	}

	var saved *types.PredictionRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, gErr := s.predictionRepo.GetByTaskID(ctx, tx, outcome.TaskID)
		if gErr != nil {
			return gErr
		}
		if existing != nil {
			s.log.Info("Duplicate outcome delivery ignored", "task_id", outcome.TaskID)
			return nil
		}

		row := &types.PredictionRequest{
			UserID:       outcome.UserID,
			TaskID:       outcome.TaskID,
			PromptRU:     outcome.PromptRU,
			PromptEN:     outcome.PromptEN,
			ModelID:      &outcome.ModelID,
			StorageKey:   outcome.StorageKey,
			PublicURL:    outcome.PublicURL,
			Status:       outcome.Status,
			CreditsSpent: 0,
		}

		if outcome.Status == types.PredictionStatusSuccess && outcome.UserID != nil && outcome.CreditsToCharge > 0 {
			dErr := s.ledger.Debit(ctx, tx, *outcome.UserID, outcome.CreditsToCharge,
				fmt.Sprintf("Image generation %s", outcome.TaskID))
			switch {
			case dErr == nil:
				row.CreditsSpent = outcome.CreditsToCharge
			case errors.Is(dErr, apperrors.ErrInsufficientCredits):
				// Balance drained between enqueue and settlement. The artifact
				// stays in storage but the task lands failed and unbilled.
				s.log.Warn("Balance no longer covers generation, recording failure",
					"task_id", outcome.TaskID, "cost", outcome.CreditsToCharge)
				row.Status = types.PredictionStatusFailed
				row.PublicURL = ""
			default:
				return dErr
			}
		}

		if _, cErr := s.predictionRepo.Create(ctx, tx, []*types.PredictionRequest{row}); cErr != nil {
			if errors.Is(cErr, gorm.ErrDuplicatedKey) {
				// Concurrent delivery of the same outcome won the insert race.
				// Abort so our debit rolls back; theirs already committed.
				return apperrors.ErrDuplicateTask
			}
			return cErr
		}
		saved = row
		return nil
	})
	if errors.Is(err, apperrors.ErrDuplicateTask) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *ResultPersisterService) notifyUpdated(row *types.PredictionRequest) {
	if s.notify == nil || row == nil || row.UserID == nil {
		return
	}
	s.notify.PredictionSettled(*row.UserID, row)
}
