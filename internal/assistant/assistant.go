// Package assistant manages assistant definitions: remote create first,
// then the local mirror row; remote delete first, then the local row.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/gorm"
)

// AllowedModels are the models an assistant may be created with.
var AllowedModels = []string{"gpt-4.1", "gpt-4"}

// CreateOpts holds parameters for creating an assistant.
type CreateOpts struct {
	Name         string
	Model        string
	Description  string
	Instructions string
}

// Service creates and deletes assistants on both sides.
type Service struct {
	gw  remote.Gateway
	log *logger.Logger
}

// NewService returns a Service.
func NewService(gw remote.Gateway, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{gw: gw, log: log.With("component", "assistant")}
}

// ModelAllowed reports whether model is in AllowedModels.
func ModelAllowed(model string) bool {
	for _, m := range AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// Create validates opts, creates the assistant remotely and stores the
// local row carrying its external id.
func (s *Service) Create(ctx context.Context, db *gorm.DB, opts CreateOpts) (*models.Assistant, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "name is required")
	}
	if !ModelAllowed(opts.Model) {
		return nil, apperr.Invalid("model", "model %q is not allowed (allowed: %s)", opts.Model, strings.Join(AllowedModels, ", "))
	}

	s.log.Info("creating assistant", "name", name, "model", opts.Model)
	created, err := s.gw.CreateAssistant(ctx, remote.AssistantParams{
		Name:         name,
		Model:        opts.Model,
		Description:  opts.Description,
		Instructions: opts.Instructions,
	})
	if err != nil {
		return nil, apperr.Sync("assistant", "create", err)
	}

	a := models.Assistant{
		ExternalID:   &created.ID,
		Name:         name,
		Model:        opts.Model,
		Description:  opts.Description,
		Instructions: opts.Instructions,
	}
	if err := db.Create(&a).Error; err != nil {
		return nil, fmt.Errorf("assistant: create %s: %w", name, err)
	}
	return &a, nil
}

// Get returns an assistant by local id.
func Get(db *gorm.DB, id uint) (*models.Assistant, error) {
	var a models.Assistant
	if err := db.First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("assistant", id)
		}
		return nil, fmt.Errorf("assistant: get %d: %w", id, err)
	}
	return &a, nil
}

// List returns all assistants ordered by name.
func List(db *gorm.DB) ([]models.Assistant, error) {
	var out []models.Assistant
	if err := db.Order("name, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("assistant: list: %w", err)
	}
	return out, nil
}

// Delete removes the assistant remotely, then locally. Workers bound to it
// are unbound. A remote failure leaves the local row in place.
func (s *Service) Delete(ctx context.Context, db *gorm.DB, id uint) error {
	a, err := Get(db, id)
	if err != nil {
		return err
	}
	if a.ExternalID != nil {
		s.log.Info("deleting assistant", "assistant", *a.ExternalID)
		ok, err := s.gw.DeleteAssistant(ctx, *a.ExternalID)
		if err != nil {
			return apperr.Sync("assistant", "delete", err)
		}
		if !ok {
			return apperr.Sync("assistant", "delete", nil)
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Worker{}).Where("assistant_id = ?", a.ID).
			Update("assistant_id", nil).Error; err != nil {
			return fmt.Errorf("assistant: unbind workers of %d: %w", a.ID, err)
		}
		if err := tx.Delete(&models.Assistant{}, a.ID).Error; err != nil {
			return fmt.Errorf("assistant: delete %d: %w", a.ID, err)
		}
		return nil
	})
}
