// Package actor resolves the operator that entry points act on behalf of.
package actor

import (
	"errors"
	"fmt"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/models"
	"gorm.io/gorm"
)

// Resolve looks up the actor by username. Run "orq db seed" to create it.
func Resolve(db *gorm.DB, username string) (*models.User, error) {
	if username == "" {
		return nil, apperr.Invalid("actor", "username is required")
	}
	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("actor", username)
		}
		return nil, fmt.Errorf("actor: resolve %s: %w", username, err)
	}
	return &user, nil
}
