package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	PredictionStatusPending = "pending"
	PredictionStatusSuccess = "success"
	PredictionStatusFailed  = "failed"
)

// PredictionRequest is one image generation request. TaskID is minted at
// enqueue time and is the idempotency key for every downstream effect: the
// unique index is what protects the ledger from double charges under
// at-least-once delivery.
//
// UserID is NULL for demo (anonymous) generations. A demo row can be claimed
// by an authenticated user exactly once; Claimed flips one way.
type PredictionRequest struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index;column:user_id" json:"user_id,omitempty"`
	TaskID       string     `gorm:"uniqueIndex;not null;column:task_id" json:"task_id"`
	PromptRU     string     `gorm:"type:text;not null;column:prompt_ru" json:"prompt_ru"`
	PromptEN     string     `gorm:"type:text;column:prompt_en" json:"prompt_en"`
	ModelID      *uuid.UUID `gorm:"type:uuid;column:model_id" json:"model_id,omitempty"`
	StorageKey   string     `gorm:"column:s3_key" json:"s3_key"`
	PublicURL    string     `gorm:"column:public_url" json:"public_url"`
	CreditsSpent int        `gorm:"not null;default:0;column:credits_spent" json:"credits_spent"`
	Status       string     `gorm:"not null;default:'pending';index;column:status" json:"status"`
	Claimed      bool       `gorm:"not null;default:false;column:claimed" json:"claimed"`
	CreatedAt    time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (PredictionRequest) TableName() string {
	return "prediction_requests"
}

func (p *PredictionRequest) IsDemo() bool {
	return p.UserID == nil
}
