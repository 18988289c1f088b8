// Package chatrole manages reusable chat personas.
package chatrole

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/models"
	"gorm.io/gorm"
)

// AllowedModels are the models a role may name explicitly.
var AllowedModels = []string{"o3-pro", "o4-mini", "o3-mini"}

// DefaultTemperature applies when a role is created without one.
const DefaultTemperature = 0.7

// CreateOpts holds parameters for creating a role. Nil pointers take the
// defaults: temperature 0.7, active.
type CreateOpts struct {
	Name         string
	Description  string
	Instructions string
	Model        string
	Temperature  *float64
	Active       *bool
}

// UpdateOpts holds the fields to change. Nil fields are left alone.
type UpdateOpts struct {
	Name         *string
	Description  *string
	Instructions *string
	Model        *string
	Temperature  *float64
	Active       *bool
}

// ClampTemperature limits t to [0, 1].
func ClampTemperature(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}

func checkModel(model string) error {
	for _, m := range AllowedModels {
		if m == model {
			return nil
		}
	}
	return apperr.Invalid("model", "model %q is not allowed (allowed: %s)", model, strings.Join(AllowedModels, ", "))
}

func checkNameFree(db *gorm.DB, name string, exceptID uint) error {
	var n int64
	if err := db.Model(&models.ChatRole{}).Where("name = ? AND id <> ?", name, exceptID).Count(&n).Error; err != nil {
		return fmt.Errorf("chatrole: check name %s: %w", name, err)
	}
	if n > 0 {
		return apperr.Invalid("name", "a role named %q already exists", name)
	}
	return nil
}

// Create stores a new role. An empty model takes defaultModel; an explicit
// one must be allow-listed.
func Create(db *gorm.DB, defaultModel string, opts CreateOpts) (*models.ChatRole, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "name is required")
	}
	if strings.TrimSpace(opts.Instructions) == "" {
		return nil, apperr.Invalid("instructions", "instructions are required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	} else if err := checkModel(model); err != nil {
		return nil, err
	}
	if err := checkNameFree(db, name, 0); err != nil {
		return nil, err
	}

	role := models.ChatRole{
		Name:         name,
		Description:  opts.Description,
		Instructions: opts.Instructions,
		Model:        model,
		Temperature:  DefaultTemperature,
		IsActive:     true,
	}
	if opts.Temperature != nil {
		role.Temperature = ClampTemperature(*opts.Temperature)
	}
	if opts.Active != nil {
		role.IsActive = *opts.Active
	}
	if err := db.Create(&role).Error; err != nil {
		return nil, fmt.Errorf("chatrole: create %s: %w", name, err)
	}
	return &role, nil
}

// Get returns a role by id.
func Get(db *gorm.DB, id uint) (*models.ChatRole, error) {
	var role models.ChatRole
	if err := db.First(&role, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("chat_role", id)
		}
		return nil, fmt.Errorf("chatrole: get %d: %w", id, err)
	}
	return &role, nil
}

// List returns roles ordered by name, optionally only active ones.
func List(db *gorm.DB, activeOnly bool) ([]models.ChatRole, error) {
	q := db.Order("name, id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []models.ChatRole
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("chatrole: list: %w", err)
	}
	return out, nil
}

// Update applies opts to the role. Temperature is clamped.
func Update(db *gorm.DB, id uint, opts UpdateOpts) (*models.ChatRole, error) {
	role, err := Get(db, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return nil, apperr.Invalid("name", "name is required")
		}
		if err := checkNameFree(db, name, role.ID); err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if opts.Instructions != nil {
		if strings.TrimSpace(*opts.Instructions) == "" {
			return nil, apperr.Invalid("instructions", "instructions are required")
		}
		updates["instructions"] = *opts.Instructions
	}
	if opts.Description != nil {
		updates["description"] = *opts.Description
	}
	if opts.Model != nil && *opts.Model != "" {
		if err := checkModel(*opts.Model); err != nil {
			return nil, err
		}
		updates["model"] = *opts.Model
	}
	if opts.Temperature != nil {
		updates["temperature"] = ClampTemperature(*opts.Temperature)
	}
	if opts.Active != nil {
		updates["is_active"] = *opts.Active
	}
	if len(updates) == 0 {
		return role, nil
	}

	if err := db.Model(role).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("chatrole: update %d: %w", id, err)
	}
	return Get(db, id)
}

// Delete removes the role and unassigns it from every chat. Chats keep
// the model the role gave them.
func Delete(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := Get(tx, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Chat{}).Where("chat_role_id = ?", id).
			Update("chat_role_id", nil).Error; err != nil {
			return fmt.Errorf("chatrole: unassign %d: %w", id, err)
		}
		if err := tx.Delete(&models.ChatRole{}, id).Error; err != nil {
			return fmt.Errorf("chatrole: delete %d: %w", id, err)
		}
		return nil
	})
}
