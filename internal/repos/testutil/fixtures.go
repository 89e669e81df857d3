package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/types"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, balance int) *types.User {
	tb.Helper()
	u := &types.User{
		ID:             uuid.New(),
		Email:          fmt.Sprintf("%s@example.com", uuid.New().String()[:8]),
		Password:       "pw",
		Role:           types.UserRoleUser,
		BalanceCredits: balance,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedModel(tb testing.TB, ctx context.Context, tx *gorm.DB, modelType string, cost int, active bool) *types.MLModel {
	tb.Helper()
	m := &types.MLModel{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("model-%s", uuid.New().String()[:8]),
		DisplayName: "Test Model",
		ModelType:   modelType,
		Engine:      "test-engine",
		Version:     "1",
		CostCredits: cost,
		IsActive:    active,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed model: %v", err)
	}
	return m
}

func SeedPrediction(tb testing.TB, ctx context.Context, tx *gorm.DB, userID *uuid.UUID, status string) *types.PredictionRequest {
	tb.Helper()
	taskID := uuid.New().String()
	p := &types.PredictionRequest{
		ID:         uuid.New(),
		UserID:     userID,
		TaskID:     taskID,
		PromptRU:   "торт с вишней",
		PromptEN:   "cherry cake",
		StorageKey: fmt.Sprintf("demo/predictions/%s.png", taskID),
		PublicURL:  "https://example.com/" + taskID,
		Status:     status,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed prediction: %v", err)
	}
	return p
}
