package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/repos/testutil"
	"github.com/tortodelova/backend/internal/types"
)

type persisterFixture struct {
	tx             *gorm.DB
	persister      *ResultPersisterService
	userRepo       repos.UserRepo
	txRepo         repos.TransactionRepo
	predictionRepo repos.PredictionRepo
	ledger         LedgerService
}

func newPersisterFixture(t *testing.T) *persisterFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(tx, log)
	txRepo := repos.NewTransactionRepo(tx, log)
	predictionRepo := repos.NewPredictionRepo(tx, log)
	queueRepo := repos.NewQueueMessageRepo(tx, log)
	ledger := NewLedgerService(tx, log, userRepo, txRepo)

	return &persisterFixture{
		tx:             tx,
		persister:      NewResultPersisterService(tx, log, queueRepo, predictionRepo, ledger, nil),
		userRepo:       userRepo,
		txRepo:         txRepo,
		predictionRepo: predictionRepo,
		ledger:         ledger,
	}
}

func successOutcome(userID *uuid.UUID, charge int) *types.GenerationOutcome {
	taskID := uuid.New().String()
	return &types.GenerationOutcome{
		TaskID:          taskID,
		UserID:          userID,
		Status:          types.PredictionStatusSuccess,
		PromptRU:        "торт с вишней",
		PromptEN:        "cherry cake",
		ModelID:         uuid.New(),
		StorageKey:      StorageKeyFor(userID, taskID),
		PublicURL:       "https://cdn.example.com/" + taskID,
		CreditsToCharge: charge,
	}
}

func TestSavePredictionResultChargesOnce(t *testing.T) {
	f := newPersisterFixture(t)
	ctx := context.Background()

	user := testutil.SeedUser(t, ctx, f.tx, 100)
	outcome := successOutcome(&user.ID, 10)

	saved, err := f.persister.SavePredictionResult(ctx, outcome)
	if err != nil {
		t.Fatalf("SavePredictionResult: %v", err)
	}
	if saved == nil || saved.Status != types.PredictionStatusSuccess || saved.CreditsSpent != 10 {
		t.Fatalf("first delivery: got %+v", saved)
	}

	balance, _ := f.ledger.Balance(ctx, user.ID)
	if balance != 90 {
		t.Fatalf("balance after settle: expected 90, got %d", balance)
	}

	// Redelivery of the same outcome: no new row, no second charge.
	again, err := f.persister.SavePredictionResult(ctx, outcome)
	if err != nil {
		t.Fatalf("SavePredictionResult redelivery: %v", err)
	}
	if again != nil {
		t.Fatalf("redelivery must be absorbed, got %+v", again)
	}
	balance, _ = f.ledger.Balance(ctx, user.ID)
	if balance != 90 {
		t.Fatalf("balance after redelivery: expected 90, got %d", balance)
	}

	rows, err := f.predictionRepo.ListByUser(ctx, nil, user.ID, 10, 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d err=%v", len(rows), err)
	}
	txs, _ := f.txRepo.ListByUser(ctx, nil, user.ID, 10, 0)
	if len(txs) != 1 {
		t.Fatalf("expected exactly one debit transaction, got %d", len(txs))
	}
}

func TestSavePredictionResultBalanceDrained(t *testing.T) {
	f := newPersisterFixture(t)
	ctx := context.Background()

	// Balance was fine at enqueue but drained before settlement.
	user := testutil.SeedUser(t, ctx, f.tx, 5)
	outcome := successOutcome(&user.ID, 10)

	saved, err := f.persister.SavePredictionResult(ctx, outcome)
	if err != nil {
		t.Fatalf("SavePredictionResult: %v", err)
	}
	if saved == nil || saved.Status != types.PredictionStatusFailed {
		t.Fatalf("drained balance must settle as failed, got %+v", saved)
	}
	if saved.CreditsSpent != 0 {
		t.Fatalf("failed settle must not charge, got %d", saved.CreditsSpent)
	}

	balance, _ := f.ledger.Balance(ctx, user.ID)
	if balance != 5 {
		t.Fatalf("balance must be untouched, got %d", balance)
	}
}

func TestSavePredictionResultFailedOutcome(t *testing.T) {
	f := newPersisterFixture(t)
	ctx := context.Background()

	user := testutil.SeedUser(t, ctx, f.tx, 100)
	outcome := successOutcome(&user.ID, 10)
	outcome.Status = types.PredictionStatusFailed
	outcome.CreditsToCharge = 0
	outcome.StorageKey = ""
	outcome.PublicURL = ""
	outcome.Error = "imagegen provider permanent error"

	saved, err := f.persister.SavePredictionResult(ctx, outcome)
	if err != nil {
		t.Fatalf("SavePredictionResult: %v", err)
	}
	if saved == nil || saved.Status != types.PredictionStatusFailed || saved.CreditsSpent != 0 {
		t.Fatalf("failed outcome: got %+v", saved)
	}
	balance, _ := f.ledger.Balance(ctx, user.ID)
	if balance != 100 {
		t.Fatalf("failed generation must be free, balance=%d", balance)
	}
}

func TestSavePredictionResultDemo(t *testing.T) {
	f := newPersisterFixture(t)
	ctx := context.Background()

	outcome := successOutcome(nil, 10)

	saved, err := f.persister.SavePredictionResult(ctx, outcome)
	if err != nil {
		t.Fatalf("SavePredictionResult: %v", err)
	}
	if saved == nil || saved.UserID != nil {
		t.Fatalf("demo outcome must create an ownerless row, got %+v", saved)
	}
	if saved.CreditsSpent != 0 {
		t.Fatalf("demo settles free, got credits_spent=%d", saved.CreditsSpent)
	}
	if !saved.IsDemo() {
		t.Fatalf("IsDemo: expected true")
	}
}
