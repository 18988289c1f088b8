// Package chat manages chats and their messages and sends user turns
// through the respond driver.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/extract"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/project"
	"github.com/zulandar/orquestrix/internal/remote"
	"github.com/zulandar/orquestrix/internal/responder"
	"gorm.io/gorm"
)

// DefaultMaxOutputTokens applies when a chat is created without a budget.
const DefaultMaxOutputTokens = 1024

// Responder produces the assistant turn for a request.
type Responder interface {
	Respond(ctx context.Context, req responder.Request) (*models.Message, error)
}

// CreateOpts holds parameters for creating a chat.
type CreateOpts struct {
	UserID          uint
	Title           string
	Objective       string
	Model           string
	MaxOutputTokens int
	ProjectID       *uint
	ChatRoleID      *uint
}

// ListOpts filters List.
type ListOpts struct {
	ProjectID *uint
}

// Service creates chats and sends messages.
type Service struct {
	resp         Responder
	defaultModel string
	log          *logger.Logger
}

// NewService returns a Service. defaultModel is used for chats created
// without a model or role.
func NewService(resp Responder, defaultModel string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{resp: resp, defaultModel: defaultModel, log: log.With("component", "chat")}
}

// Create stores a new chat. A chat bound to a project gets a one-time copy
// of the project's unembedded files; a chat with a role takes its model.
func (s *Service) Create(db *gorm.DB, opts CreateOpts) (*models.Chat, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return nil, apperr.Invalid("title", "title is required")
	}
	if opts.MaxOutputTokens < 0 {
		return nil, apperr.Invalid("max_output_tokens", "must not be negative")
	}

	c := models.Chat{
		UserID:          opts.UserID,
		Title:           title,
		Objective:       opts.Objective,
		Model:           opts.Model,
		MaxOutputTokens: opts.MaxOutputTokens,
		ProjectID:       opts.ProjectID,
		ChatRoleID:      opts.ChatRoleID,
	}
	if c.Model == "" {
		c.Model = s.defaultModel
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if opts.ChatRoleID != nil {
			role, err := loadRole(tx, *opts.ChatRoleID)
			if err != nil {
				return err
			}
			c.Model = role.Model
		}
		var inherited []models.File
		if opts.ProjectID != nil {
			if err := exists(tx, &models.Project{}, *opts.ProjectID, "project"); err != nil {
				return err
			}
			files, err := project.UnembeddedFiles(tx, *opts.ProjectID)
			if err != nil {
				return err
			}
			inherited = files
		}
		if err := tx.Create(&c).Error; err != nil {
			return fmt.Errorf("chat: create %s: %w", title, err)
		}
		if len(inherited) > 0 {
			if err := tx.Model(&c).Association("Files").Append(inherited); err != nil {
				return fmt.Errorf("chat: inherit project files: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Get(db, c.ID)
}

// Get returns a chat with its role, files and vector stores.
func Get(db *gorm.DB, id uint) (*models.Chat, error) {
	var c models.Chat
	err := db.Preload("Role").
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("files.id") }).
		Preload("VectorStores", func(db *gorm.DB) *gorm.DB { return db.Order("vector_stores.id") }).
		First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("chat", id)
		}
		return nil, fmt.Errorf("chat: get %d: %w", id, err)
	}
	return &c, nil
}

// List returns chats newest first.
func List(db *gorm.DB, opts ListOpts) ([]models.Chat, error) {
	q := db.Order("created_at DESC, id DESC")
	if opts.ProjectID != nil {
		q = q.Where("project_id = ?", *opts.ProjectID)
	}
	var out []models.Chat
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("chat: list: %w", err)
	}
	return out, nil
}

// Messages returns the chat's messages in creation order.
func Messages(db *gorm.DB, chatID uint) ([]models.Message, error) {
	if err := exists(db, &models.Chat{}, chatID, "chat"); err != nil {
		return nil, err
	}
	var out []models.Message
	if err := db.Where("chat_id = ?", chatID).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("chat: messages of %d: %w", chatID, err)
	}
	return out, nil
}

// AssignRole sets the chat's role and overwrites its model with the
// role's. A nil roleID removes the role and keeps the model.
func AssignRole(db *gorm.DB, chatID uint, roleID *uint) (*models.Chat, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &models.Chat{}, chatID, "chat"); err != nil {
			return err
		}
		updates := map[string]interface{}{"chat_role_id": nil}
		if roleID != nil {
			role, err := loadRole(tx, *roleID)
			if err != nil {
				return err
			}
			updates["chat_role_id"] = role.ID
			updates["model"] = role.Model
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(updates).Error; err != nil {
			return fmt.Errorf("chat: assign role to %d: %w", chatID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Get(db, chatID)
}

// SetVectorStores replaces the chat's vector stores.
func SetVectorStores(db *gorm.DB, chatID uint, storeIDs []uint) (*models.Chat, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		var c models.Chat
		if err := tx.First(&c, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("chat", chatID)
			}
			return fmt.Errorf("chat: get %d: %w", chatID, err)
		}
		var stores []models.VectorStore
		if len(storeIDs) > 0 {
			if err := tx.Where("id IN ?", storeIDs).Find(&stores).Error; err != nil {
				return fmt.Errorf("chat: load vector stores: %w", err)
			}
		}
		assoc := tx.Model(&c).Association("VectorStores")
		var err error
		if len(stores) == 0 {
			err = assoc.Clear()
		} else {
			err = assoc.Replace(stores)
		}
		if err != nil {
			return fmt.Errorf("chat: set vector stores of %d: %w", chatID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Get(db, chatID)
}

// AssignProject sets or clears the chat's project. Files are not copied
// again.
func AssignProject(db *gorm.DB, chatID uint, projectID *uint) (*models.Chat, error) {
	if err := exists(db, &models.Chat{}, chatID, "chat"); err != nil {
		return nil, err
	}
	if projectID != nil {
		if err := exists(db, &models.Project{}, *projectID, "project"); err != nil {
			return nil, err
		}
	}
	if err := db.Model(&models.Chat{}).Where("id = ?", chatID).Update("project_id", projectID).Error; err != nil {
		return nil, fmt.Errorf("chat: assign project to %d: %w", chatID, err)
	}
	return Get(db, chatID)
}

// Delete removes the chat with its messages and assignments.
func Delete(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &models.Chat{}, id, "chat"); err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("chat: delete messages of %d: %w", id, err)
		}
		for _, table := range []string{"chat_files", "chat_vector_stores"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE chat_id = ?", id).Error; err != nil {
				return fmt.Errorf("chat: clear %s for %d: %w", table, id, err)
			}
		}
		if err := tx.Delete(&models.Chat{}, id).Error; err != nil {
			return fmt.Errorf("chat: delete %d: %w", id, err)
		}
		return nil
	})
}

// Send stores text as a user message, asks the responder for the reply
// with the chat's full history and stores the assistant message. The user
// message is kept when the responder fails.
func (s *Service) Send(ctx context.Context, db *gorm.DB, chatID uint, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Invalid("content", "message is empty")
	}
	c, err := Get(db, chatID)
	if err != nil {
		return nil, err
	}

	user := models.Message{ChatID: c.ID, Role: "user", Content: text}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("chat: store user message: %w", err)
	}

	req, err := s.buildRequest(db, c)
	if err != nil {
		return nil, err
	}
	reply, err := s.resp.Respond(ctx, req)
	if err != nil {
		return nil, err
	}

	reply.ChatID = c.ID
	reply.Role = "assistant"
	if err := db.Create(reply).Error; err != nil {
		return nil, fmt.Errorf("chat: store assistant message: %w", err)
	}
	s.log.Info("chat reply stored", "chat_id", c.ID, "message_id", reply.ID)
	return reply, nil
}

// buildRequest assembles the respond request: role instructions or the
// objective, role model or chat model, the chat's stores with a remote id,
// and the chat's files followed by the project's unembedded files.
func (s *Service) buildRequest(db *gorm.DB, c *models.Chat) (responder.Request, error) {
	history, err := Messages(db, c.ID)
	if err != nil {
		return responder.Request{}, err
	}
	input := make([]remote.InputMessage, 0, len(history))
	for _, m := range history {
		input = append(input, remote.InputMessage{Role: m.Role, Content: m.Content})
	}

	instructions := c.Objective
	model := c.Model
	if c.Role != nil {
		if c.Role.Instructions != "" {
			instructions = c.Role.Instructions
		}
		model = c.Role.Model
	}

	var storeIDs []string
	for _, vs := range c.VectorStores {
		if vs.ExternalID != nil {
			storeIDs = append(storeIDs, *vs.ExternalID)
		}
	}

	var fileIDs []string
	for _, f := range c.Files {
		if f.ExternalID != nil {
			fileIDs = append(fileIDs, *f.ExternalID)
		}
	}
	if c.ProjectID != nil {
		projectFiles, err := project.UnembeddedFiles(db, *c.ProjectID)
		if err != nil {
			return responder.Request{}, err
		}
		for _, f := range projectFiles {
			if f.ExternalID != nil {
				fileIDs = append(fileIDs, *f.ExternalID)
			}
		}
	}

	return responder.Request{
		Instructions:    instructions,
		Model:           model,
		Messages:        input,
		MaxOutputTokens: c.MaxOutputTokens,
		VectorStoreIDs:  storeIDs,
		FileIDs:         extract.Dedupe(fileIDs),
	}, nil
}

func loadRole(db *gorm.DB, id uint) (*models.ChatRole, error) {
	var role models.ChatRole
	if err := db.First(&role, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("chat_role", id)
		}
		return nil, fmt.Errorf("chat: get role %d: %w", id, err)
	}
	return &role, nil
}

func exists(db *gorm.DB, model interface{}, id uint, kind string) error {
	var n int64
	if err := db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("chat: check %s %d: %w", kind, id, err)
	}
	if n == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}
