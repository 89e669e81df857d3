package services

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tortodelova/backend/internal/logger"
	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/types"
)

// ModelCatalog seeds and reconciles the ml_models table from a YAML file at
// boot. Name is the stable identity: an entry updates the existing row in
// place, so cost or activation changes roll out with a restart and never
// touch rows for models that left the file.
type ModelCatalog struct {
	db        *gorm.DB
	log       *logger.Logger
	modelRepo repos.MLModelRepo
}

type catalogFile struct {
	Models []catalogEntry `yaml:"models"`
}

type catalogEntry struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	ModelType   string `yaml:"model_type"`
	Engine      string `yaml:"engine"`
	Version     string `yaml:"version"`
	CostCredits int    `yaml:"cost_credits"`
	IsActive    *bool  `yaml:"is_active"`
}

func NewModelCatalog(db *gorm.DB, baseLog *logger.Logger, modelRepo repos.MLModelRepo) *ModelCatalog {
	return &ModelCatalog{
		db:        db,
		log:       baseLog.With("service", "ModelCatalog"),
		modelRepo: modelRepo,
	}
}

func (c *ModelCatalog) SyncFromFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model catalog %q: %w", path, err)
	}
	entries, err := ParseCatalog(raw)
	if err != nil {
		return fmt.Errorf("failed to parse model catalog %q: %w", path, err)
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			existing, gErr := c.modelRepo.GetByName(ctx, tx, e.Name)
			if gErr != nil {
				return gErr
			}
			active := true
			if e.IsActive != nil {
				active = *e.IsActive
			}
			if existing == nil {
				_, cErr := c.modelRepo.Create(ctx, tx, []*types.MLModel{{
					Name:        e.Name,
					DisplayName: e.DisplayName,
					ModelType:   e.ModelType,
					Engine:      e.Engine,
					Version:     e.Version,
					CostCredits: e.CostCredits,
					IsActive:    active,
				}})
				if cErr != nil {
					return cErr
				}
				c.log.Info("Model registered", "name", e.Name, "type", e.ModelType, "cost_credits", e.CostCredits)
				continue
			}
			uErr := c.modelRepo.UpdateFields(ctx, tx, existing.ID, map[string]interface{}{
				"display_name": e.DisplayName,
				"engine":       e.Engine,
				"version":      e.Version,
				"cost_credits": e.CostCredits,
				"is_active":    active,
			})
			if uErr != nil {
				return uErr
			}
			c.log.Info("Model reconciled", "name", e.Name, "cost_credits", e.CostCredits, "is_active", active)
		}
		return nil
	})
}

// ParseCatalog validates the raw YAML catalog. Split from SyncFromFile so
// bad files fail loudly without a database.
func ParseCatalog(raw []byte) ([]catalogEntry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for i, e := range file.Models {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: models[%d] missing name", apperrors.ErrValidation, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: duplicate model name %q", apperrors.ErrValidation, e.Name)
		}
		seen[e.Name] = true
		switch e.ModelType {
		case types.MLModelTypeTranslation, types.MLModelTypeImageGeneration:
		default:
			return nil, fmt.Errorf("%w: model %q has unknown model_type %q", apperrors.ErrValidation, e.Name, e.ModelType)
		}
		if e.CostCredits < 0 {
			return nil, fmt.Errorf("%w: model %q has negative cost_credits", apperrors.ErrValidation, e.Name)
		}
	}
	return file.Models, nil
}
