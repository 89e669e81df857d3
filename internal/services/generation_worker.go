package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/types"
	"github.com/tortodelova/backend/internal/utils"
)

// GenerationWorker consumes generation jobs: translate the prompt, render the
// image, upload it under a deterministic key and hand the outcome to the
// persistence queue. Delivery is at-least-once; the deterministic storage key
// makes a re-run of the same task overwrite its own artifact instead of
// leaking a second one, and the persister absorbs the duplicate outcome.
//
// Provider failures split two ways: a permanent rejection produces a failed
// outcome immediately, a transient one releases the message for redelivery
// until the attempt ceiling, after which the message is parked as dead and a
// failed outcome is emitted so the task still reaches a terminal status.
type GenerationWorker struct {
	db        *gorm.DB
	log       *logger.Logger
	queueRepo repos.QueueMessageRepo
	translate TranslationClient
	imageGen  ImageGenClient
	bucket    BucketService
}

func NewGenerationWorker(
	db *gorm.DB,
	baseLog *logger.Logger,
	queueRepo repos.QueueMessageRepo,
	translate TranslationClient,
	imageGen ImageGenClient,
	bucket BucketService,
) *GenerationWorker {
	return &GenerationWorker{
		db:        db,
		log:       baseLog.With("component", "GenerationWorker"),
		queueRepo: queueRepo,
		translate: translate,
		imageGen:  imageGen,
		bucket:    bucket,
	}
}

func (w *GenerationWorker) Start(ctx context.Context) {
	concurrency := utils.GetEnvAsInt("ML_WORKER_CONCURRENCY", 2, w.log)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting generation worker pool", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *GenerationWorker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	maxAttempts := utils.GetEnvAsInt("ML_MAX_ATTEMPTS", 5, w.log)
	retryDelay := 30 * time.Second
	staleRunning := 30 * time.Minute

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Generation worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			msg, err := w.queueRepo.ClaimNext(ctx, nil, types.QueueMLTasks, maxAttempts, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNext failed", "worker_id", workerID, "error", err)
				continue
			}
			if msg == nil {
				continue
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Generation handler panic",
							"worker_id", workerID,
							"message_id", msg.ID,
							"panic", r,
						)
						_ = w.queueRepo.Nack(ctx, nil, msg.ID, fmt.Sprintf("panic: %v", r))
					}
				}()
				w.handle(ctx, workerID, msg, maxAttempts)
			}()
		}
	}
}

func (w *GenerationWorker) handle(ctx context.Context, workerID int, msg *types.QueueMessage, maxAttempts int) {
	var job types.GenerationJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// Malformed payloads never get better; park immediately.
		w.log.Error("Undecodable generation job", "message_id", msg.ID, "error", err)
		_ = w.queueRepo.MarkDead(ctx, nil, msg.ID, fmt.Sprintf("undecodable payload: %v", err))
		return
	}

	log := w.log.With("worker_id", workerID, "task_id", job.TaskID, "attempt", msg.Attempts)

	stopHeartbeat := w.keepAlive(ctx, msg.ID)
	outcome, err := w.process(ctx, &job)
	stopHeartbeat()

	if err != nil {
		if apperrors.IsPermanent(err) {
			log.Warn("Generation failed permanently", "error", err)
			if pubErr := w.emitFailure(ctx, &job, err); pubErr != nil {
				// The task must still reach a terminal row; keep the message
				// claimable until the failure outcome is durable.
				log.Error("Failed to publish failure outcome", "error", pubErr)
				_ = w.queueRepo.Nack(ctx, nil, msg.ID, pubErr.Error())
				return
			}
			_ = w.queueRepo.Ack(ctx, nil, msg.ID)
			return
		}
		if msg.Attempts >= maxAttempts {
			log.Error("Generation attempts exhausted", "error", err)
			if pubErr := w.emitFailure(ctx, &job, err); pubErr != nil {
				log.Error("Failed to publish failure outcome", "error", pubErr)
				_ = w.queueRepo.Nack(ctx, nil, msg.ID, pubErr.Error())
				return
			}
			_ = w.queueRepo.MarkDead(ctx, nil, msg.ID, err.Error())
			return
		}
		log.Warn("Generation failed, releasing for retry", "error", err)
		_ = w.queueRepo.Nack(ctx, nil, msg.ID, err.Error())
		return
	}

	if pubErr := w.publishOutcome(ctx, outcome); pubErr != nil {
		// Outcome not durable yet; keep the job claimable so the whole task
		// re-runs rather than vanishing.
		log.Error("Failed to publish outcome", "error", pubErr)
		_ = w.queueRepo.Nack(ctx, nil, msg.ID, pubErr.Error())
		return
	}
	if ackErr := w.queueRepo.Ack(ctx, nil, msg.ID); ackErr != nil {
		log.Warn("Ack failed after outcome publish", "error", ackErr)
	}
	log.Info("Generation completed", "s3_key", outcome.StorageKey)
}

func (w *GenerationWorker) process(ctx context.Context, job *types.GenerationJob) (*types.GenerationOutcome, error) {
	promptEN, err := w.translate.Translate(ctx, job.PromptRU)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	img, err := w.imageGen.Generate(ctx, promptEN, "")
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	key := StorageKeyFor(job.UserID, job.TaskID)
	if err := w.bucket.UploadBytes(ctx, key, img); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	return &types.GenerationOutcome{
		TaskID:          job.TaskID,
		UserID:          job.UserID,
		Status:          types.PredictionStatusSuccess,
		PromptRU:        job.PromptRU,
		PromptEN:        promptEN,
		ModelID:         job.ModelID,
		StorageKey:      key,
		PublicURL:       w.bucket.GetPublicURL(key),
		CreditsToCharge: job.CostCredits,
	}, nil
}

func (w *GenerationWorker) emitFailure(ctx context.Context, job *types.GenerationJob, cause error) error {
	return w.publishOutcome(ctx, &types.GenerationOutcome{
		TaskID:          job.TaskID,
		UserID:          job.UserID,
		Status:          types.PredictionStatusFailed,
		PromptRU:        job.PromptRU,
		ModelID:         job.ModelID,
		CreditsToCharge: 0,
		Error:           cause.Error(),
	})
}

func (w *GenerationWorker) publishOutcome(ctx context.Context, outcome *types.GenerationOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = w.queueRepo.Publish(ctx, nil, []*types.QueueMessage{{
		Queue:      types.QueueDBTasks,
		RoutingKey: types.RoutingKeySave,
		Payload:    datatypes.JSON(payload),
	}})
	return err
}

// keepAlive heartbeats the claimed message while a slow provider call is in
// flight so another worker does not steal it as stale.
func (w *GenerationWorker) keepAlive(ctx context.Context, msgID uuid.UUID) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queueRepo.Heartbeat(hbCtx, nil, msgID); err != nil {
					w.log.Warn("Heartbeat failed", "message_id", msgID, "error", err)
				}
			}
		}
	}()
	return cancel
}

// StorageKeyFor derives the object key for a task's artifact. The key is a
// pure function of the job identity, so redelivered jobs overwrite their own
// upload instead of creating orphans.
func StorageKeyFor(userID *uuid.UUID, taskID string) string {
	owner := "demo"
	if userID != nil {
		owner = "user-" + userID.String()
	}
	return fmt.Sprintf("%s/predictions/%s.png", owner, taskID)
}
