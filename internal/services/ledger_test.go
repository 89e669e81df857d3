package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/repos/testutil"
	"github.com/tortodelova/backend/internal/types"
)

func TestLedgerServiceDepositDebit(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(tx, log)
	txRepo := repos.NewTransactionRepo(tx, log)
	ledger := NewLedgerService(tx, log, userRepo, txRepo)

	user := testutil.SeedUser(t, ctx, tx, 0)

	if err := ledger.Deposit(ctx, nil, user.ID, 100, "deposit"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := ledger.Debit(ctx, nil, user.ID, 30, "generation"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	balance, err := ledger.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 70 {
		t.Fatalf("balance: expected 70, got %d", balance)
	}

	// Ledger audit: signed transaction sum equals the live balance.
	sum, err := txRepo.SumSigned(ctx, nil, user.ID)
	if err != nil {
		t.Fatalf("SumSigned: %v", err)
	}
	if sum != balance {
		t.Fatalf("audit: sum %d != balance %d", sum, balance)
	}
}

func TestLedgerServiceInsufficientCredits(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(tx, log)
	txRepo := repos.NewTransactionRepo(tx, log)
	ledger := NewLedgerService(tx, log, userRepo, txRepo)

	user := testutil.SeedUser(t, ctx, tx, 10)

	err := ledger.Debit(ctx, nil, user.ID, 11, "generation")
	if !errors.Is(err, apperrors.ErrInsufficientCredits) {
		t.Fatalf("Debit: expected ErrInsufficientCredits, got %v", err)
	}

	// A rejected debit leaves no trace: no balance change, no audit row.
	balance, _ := ledger.Balance(ctx, user.ID)
	if balance != 10 {
		t.Fatalf("balance after rejected debit: expected 10, got %d", balance)
	}
	txs, err := txRepo.ListByUser(ctx, nil, user.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("rejected debit must not record a transaction, got %d", len(txs))
	}

	// Zero-cost debit is a no-op, negative is rejected.
	if err := ledger.Debit(ctx, nil, user.ID, 0, "free"); err != nil {
		t.Fatalf("zero debit: %v", err)
	}
	if err := ledger.Debit(ctx, nil, user.ID, -5, "bad"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("negative debit: expected ErrValidation, got %v", err)
	}
}

func TestLedgerServiceConcurrentDebits(t *testing.T) {
	// Parallel debits need real row locking across committed transactions, so
	// this test runs against the shared database, not the per-test rollback tx.
	db := testutil.DB(t)
	ctx := context.Background()
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(db, log)
	txRepo := repos.NewTransactionRepo(db, log)
	ledger := NewLedgerService(db, log, userRepo, txRepo)

	user := testutil.SeedUser(t, ctx, db, 100)
	t.Cleanup(func() {
		db.Where("user_id = ?", user.ID).Delete(&types.Transaction{})
		db.Where("id = ?", user.ID).Delete(&types.User{})
	})

	const workers = 20
	const amount = 10

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.Debit(ctx, nil, user.ID, amount, "generation")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, apperrors.ErrInsufficientCredits):
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 winning debits, got %d", succeeded)
	}

	balance, err := ledger.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance after concurrent drain: expected 0, got %d", balance)
	}

	// Every winning debit, and only those, left an audit row.
	txs, err := txRepo.ListByUser(ctx, nil, user.ID, workers, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(txs) != succeeded {
		t.Fatalf("audit rows: expected %d, got %d", succeeded, len(txs))
	}
}
