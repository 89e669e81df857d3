package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	MLModelTypeTranslation     = "translation"
	MLModelTypeImageGeneration = "image_generation"
)

type MLModel struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null;column:name" json:"name"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`
	ModelType   string    `gorm:"not null;index;column:model_type" json:"model_type"`
	Engine      string    `gorm:"column:engine" json:"engine"`
	Version     string    `gorm:"column:version" json:"version"`
	CostCredits int       `gorm:"not null;default:0;column:cost_credits" json:"cost_credits"`
	IsActive    bool      `gorm:"not null;default:true;index;column:is_active" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MLModel) TableName() string {
	return "ml_models"
}
