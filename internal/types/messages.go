package types

import "github.com/google/uuid"

// GenerationJob is the payload published on ml_tasks by the dispatcher and
// consumed by the generation worker. UserID is nil for demo generations.
type GenerationJob struct {
	TaskID      string     `json:"task_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	PromptRU    string     `json:"prompt_ru"`
	ModelID     uuid.UUID  `json:"model_id"`
	CostCredits int        `json:"cost_credits"`
}

// GenerationOutcome is the payload published on db_tasks by the worker once a
// job reaches a terminal state, and consumed by the result persister. Exactly
// one outcome is emitted per job; the persister tolerates redelivery.
type GenerationOutcome struct {
	TaskID          string     `json:"task_id"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	Status          string     `json:"status"`
	PromptRU        string     `json:"prompt_ru"`
	PromptEN        string     `json:"prompt_en,omitempty"`
	ModelID         uuid.UUID  `json:"model_id"`
	StorageKey      string     `json:"s3_key,omitempty"`
	PublicURL       string     `json:"public_url,omitempty"`
	CreditsToCharge int        `json:"credits_to_charge"`
	Error           string     `json:"error,omitempty"`
}
