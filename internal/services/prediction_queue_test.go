package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/repos/testutil"
	"github.com/tortodelova/backend/internal/types"
)

func TestPredictionQueueServiceEnqueue(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(tx, log)
	modelRepo := repos.NewMLModelRepo(tx, log)
	queueRepo := repos.NewQueueMessageRepo(tx, log)
	svc := NewPredictionQueueService(tx, log, userRepo, modelRepo, queueRepo)

	model := testutil.SeedModel(t, ctx, tx, types.MLModelTypeImageGeneration, 10, true)
	user := testutil.SeedUser(t, ctx, tx, 50)

	taskID, resolved, err := svc.Enqueue(ctx, &user.ID, "  торт с вишней  ", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if resolved == nil || resolved.ID != model.ID {
		t.Fatalf("Enqueue: resolved wrong model %+v", resolved)
	}
	if _, pErr := uuid.Parse(taskID); pErr != nil {
		t.Fatalf("task_id must be a uuid, got %q", taskID)
	}

	// The published job carries everything the worker needs.
	msg, err := queueRepo.ClaimNext(ctx, nil, types.QueueMLTasks, 5, 0, 0)
	if err != nil || msg == nil {
		t.Fatalf("ClaimNext: msg=%+v err=%v", msg, err)
	}
	if msg.RoutingKey != types.RoutingKeyGenerate {
		t.Fatalf("routing key: got %q", msg.RoutingKey)
	}
	var job types.GenerationJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.TaskID != taskID || job.UserID == nil || *job.UserID != user.ID {
		t.Fatalf("job identity: %+v", job)
	}
	if job.PromptRU != "торт с вишней" {
		t.Fatalf("prompt not trimmed: %q", job.PromptRU)
	}
	if job.CostCredits != 10 || job.ModelID != model.ID {
		t.Fatalf("job pricing: %+v", job)
	}

	// No balance is held at enqueue.
	u, _ := userRepo.GetByID(ctx, nil, user.ID)
	if u.BalanceCredits != 50 {
		t.Fatalf("enqueue must not debit, balance=%d", u.BalanceCredits)
	}
}

func TestPredictionQueueServiceGates(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(tx, log)
	modelRepo := repos.NewMLModelRepo(tx, log)
	queueRepo := repos.NewQueueMessageRepo(tx, log)
	svc := NewPredictionQueueService(tx, log, userRepo, modelRepo, queueRepo)

	user := testutil.SeedUser(t, ctx, tx, 50)

	// No active model configured.
	if _, _, err := svc.Enqueue(ctx, &user.ID, "торт", nil); !errors.Is(err, apperrors.ErrModelNotConfigured) {
		t.Fatalf("expected ErrModelNotConfigured, got %v", err)
	}
	_ = testutil.SeedModel(t, ctx, tx, types.MLModelTypeImageGeneration, 100, true)

	// Balance below cost.
	if _, _, err := svc.Enqueue(ctx, &user.ID, "торт", nil); !errors.Is(err, apperrors.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// Demo path skips the balance gate entirely.
	if _, _, err := svc.Enqueue(ctx, nil, "торт", nil); err != nil {
		t.Fatalf("demo enqueue: %v", err)
	}

	// Empty prompt.
	if _, _, err := svc.Enqueue(ctx, nil, "   ", nil); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPredictionQueueServiceExplicitModel(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(tx, log)
	modelRepo := repos.NewMLModelRepo(tx, log)
	queueRepo := repos.NewQueueMessageRepo(tx, log)
	svc := NewPredictionQueueService(tx, log, userRepo, modelRepo, queueRepo)

	cheap := testutil.SeedModel(t, ctx, tx, types.MLModelTypeImageGeneration, 5, true)
	expensive := testutil.SeedModel(t, ctx, tx, types.MLModelTypeImageGeneration, 50, true)
	inactive := testutil.SeedModel(t, ctx, tx, types.MLModelTypeImageGeneration, 5, false)
	translator := testutil.SeedModel(t, ctx, tx, types.MLModelTypeTranslation, 0, true)

	// Explicit id overrides the default resolution.
	_, resolved, err := svc.Enqueue(ctx, nil, "торт", &expensive.ID)
	if err != nil || resolved.ID != expensive.ID {
		t.Fatalf("explicit model: resolved=%+v err=%v", resolved, err)
	}
	_ = cheap

	// Inactive or wrong-typed explicit models are rejected.
	if _, _, err := svc.Enqueue(ctx, nil, "торт", &inactive.ID); !errors.Is(err, apperrors.ErrModelNotConfigured) {
		t.Fatalf("inactive model: expected ErrModelNotConfigured, got %v", err)
	}
	if _, _, err := svc.Enqueue(ctx, nil, "торт", &translator.ID); !errors.Is(err, apperrors.ErrModelNotConfigured) {
		t.Fatalf("translation model: expected ErrModelNotConfigured, got %v", err)
	}
}
