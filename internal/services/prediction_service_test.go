package services

import (
	"context"
	"errors"
	"io"
	"testing"

	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos/testutil"
	"github.com/tortodelova/backend/internal/types"
)

type fakeBucket struct {
	uploads map[string][]byte
	copies  map[string]string // dst -> src
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{uploads: map[string][]byte{}, copies: map[string]string{}}
}

func (f *fakeBucket) UploadBytes(_ context.Context, key string, data []byte) error {
	f.uploads[key] = data
	return nil
}

func (f *fakeBucket) CopyObject(_ context.Context, srcKey, dstKey string) error {
	f.copies[dstKey] = srcKey
	return nil
}

func (f *fakeBucket) DownloadFile(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func newPredictionServiceFixture(t *testing.T) (PredictionService, *persisterFixture, *fakeBucket) {
	t.Helper()
	f := newPersisterFixture(t)
	bucket := newFakeBucket()
	log := testutil.Logger(t)
	svc := NewPredictionService(f.tx, log, f.predictionRepo, f.ledger, bucket, nil)
	return svc, f, bucket
}

func TestClaimDemoPrediction(t *testing.T) {
	svc, f, bucket := newPredictionServiceFixture(t)
	ctx := context.Background()
	t.Setenv("DEMO_CLAIM_COST_CREDITS", "5")

	user := testutil.SeedUser(t, ctx, f.tx, 10)
	demo := testutil.SeedPrediction(t, ctx, f.tx, nil, types.PredictionStatusSuccess)

	claimed, err := svc.ClaimDemoPrediction(ctx, user.ID, demo.TaskID)
	if err != nil {
		t.Fatalf("ClaimDemoPrediction: %v", err)
	}
	if claimed.UserID == nil || *claimed.UserID != user.ID {
		t.Fatalf("claimed row owner: %+v", claimed)
	}
	if claimed.TaskID == demo.TaskID {
		t.Fatalf("claim must mint a fresh task_id")
	}
	if claimed.CreditsSpent != 5 {
		t.Fatalf("claim cost: expected 5, got %d", claimed.CreditsSpent)
	}
	if claimed.PromptRU != demo.PromptRU || claimed.PromptEN != demo.PromptEN {
		t.Fatalf("claim must carry the demo prompts: %+v", claimed)
	}

	// Artifact was duplicated, not moved.
	if src, ok := bucket.copies[claimed.StorageKey]; !ok || src != demo.StorageKey {
		t.Fatalf("copy: dst=%q copies=%+v", claimed.StorageKey, bucket.copies)
	}

	balance, _ := f.ledger.Balance(ctx, user.ID)
	if balance != 5 {
		t.Fatalf("balance after claim: expected 5, got %d", balance)
	}

	// Second claim of the same demo loses.
	other := testutil.SeedUser(t, ctx, f.tx, 100)
	if _, err := svc.ClaimDemoPrediction(ctx, other.ID, demo.TaskID); !errors.Is(err, apperrors.ErrNotClaimable) {
		t.Fatalf("second claim: expected ErrNotClaimable, got %v", err)
	}
}

func TestClaimDemoPredictionRejections(t *testing.T) {
	svc, f, _ := newPredictionServiceFixture(t)
	ctx := context.Background()

	user := testutil.SeedUser(t, ctx, f.tx, 100)

	if _, err := svc.ClaimDemoPrediction(ctx, user.ID, "nonexistent"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("absent demo: expected ErrNotFound, got %v", err)
	}

	failed := testutil.SeedPrediction(t, ctx, f.tx, nil, types.PredictionStatusFailed)
	if _, err := svc.ClaimDemoPrediction(ctx, user.ID, failed.TaskID); !errors.Is(err, apperrors.ErrNotClaimable) {
		t.Fatalf("failed demo: expected ErrNotClaimable, got %v", err)
	}

	// An owned row is not a demo even with a matching task_id.
	owned := testutil.SeedPrediction(t, ctx, f.tx, &user.ID, types.PredictionStatusSuccess)
	if _, err := svc.ClaimDemoPrediction(ctx, user.ID, owned.TaskID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("owned row: expected ErrNotFound, got %v", err)
	}
}

func TestGetByTaskIDForUserOwnership(t *testing.T) {
	svc, f, _ := newPredictionServiceFixture(t)
	ctx := context.Background()

	alice := testutil.SeedUser(t, ctx, f.tx, 0)
	bob := testutil.SeedUser(t, ctx, f.tx, 0)
	row := testutil.SeedPrediction(t, ctx, f.tx, &alice.ID, types.PredictionStatusSuccess)

	got, err := svc.GetByTaskIDForUser(ctx, alice.ID, row.TaskID)
	if err != nil || got == nil || got.ID != row.ID {
		t.Fatalf("owner lookup: got=%+v err=%v", got, err)
	}

	// Someone else's task looks exactly like a missing one.
	if _, err := svc.GetByTaskIDForUser(ctx, bob.ID, row.TaskID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("foreign task: expected ErrNotFound, got %v", err)
	}

	// Unknown task yields nil, the still-in-flight signal.
	got, err = svc.GetByTaskIDForUser(ctx, alice.ID, "00000000-0000-0000-0000-000000000000")
	if err != nil || got != nil {
		t.Fatalf("unknown task: got=%+v err=%v", got, err)
	}
}
