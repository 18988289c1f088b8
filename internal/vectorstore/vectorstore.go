// Package vectorstore manages retrieval indexes on both sides.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/embedding"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/gorm"
)

// Service creates and deletes vector stores.
type Service struct {
	gw  remote.Gateway
	log *logger.Logger
}

// NewService returns a Service.
func NewService(gw remote.Gateway, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{gw: gw, log: log.With("component", "vectorstore")}
}

// Create creates the store remotely, then stores the local row.
func (s *Service) Create(ctx context.Context, db *gorm.DB, name, description string) (*models.VectorStore, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("name", "name is required")
	}

	s.log.Info("creating vector store", "name", name)
	created, err := s.gw.CreateVectorStore(ctx, name)
	if err != nil {
		return nil, apperr.Sync("vector_store", "create", err)
	}

	vs := models.VectorStore{ExternalID: &created.ID, Name: name, Description: description}
	if err := db.Create(&vs).Error; err != nil {
		return nil, fmt.Errorf("vectorstore: create %s: %w", name, err)
	}
	return &vs, nil
}

// Get returns a vector store by local id.
func Get(db *gorm.DB, id uint) (*models.VectorStore, error) {
	var vs models.VectorStore
	if err := db.First(&vs, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("vector_store", id)
		}
		return nil, fmt.Errorf("vectorstore: get %d: %w", id, err)
	}
	return &vs, nil
}

// List returns all vector stores ordered by name.
func List(db *gorm.DB) ([]models.VectorStore, error) {
	var out []models.VectorStore
	if err := db.Order("name, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("vectorstore: list: %w", err)
	}
	return out, nil
}

// Files returns the files that are members of the store.
func Files(db *gorm.DB, id uint) ([]models.File, error) {
	if _, err := Get(db, id); err != nil {
		return nil, err
	}
	var out []models.File
	err := db.Joins("JOIN vector_store_files ON vector_store_files.file_id = files.id").
		Where("vector_store_files.vector_store_id = ?", id).
		Order("files.filename, files.id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("vectorstore: files of %d: %w", id, err)
	}
	return out, nil
}

// Delete removes the store remotely, then locally with its memberships and
// assignments. Former member files get their cache recomputed in the same
// transaction. A remote failure leaves everything in place.
func (s *Service) Delete(ctx context.Context, db *gorm.DB, id uint) error {
	vs, err := Get(db, id)
	if err != nil {
		return err
	}
	if vs.ExternalID != nil {
		s.log.Info("deleting vector store", "vector_store", *vs.ExternalID)
		ok, err := s.gw.DeleteVectorStore(ctx, *vs.ExternalID)
		if err != nil {
			return apperr.Sync("vector_store", "delete", err)
		}
		if !ok {
			return apperr.Sync("vector_store", "delete", nil)
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var fileIDs []uint
		if err := tx.Model(&models.VectorStoreFile{}).Where("vector_store_id = ?", vs.ID).
			Pluck("file_id", &fileIDs).Error; err != nil {
			return fmt.Errorf("vectorstore: members of %d: %w", vs.ID, err)
		}
		if err := tx.Where("vector_store_id = ?", vs.ID).Delete(&models.VectorStoreFile{}).Error; err != nil {
			return fmt.Errorf("vectorstore: drop memberships of %d: %w", vs.ID, err)
		}
		for _, table := range []string{"chat_vector_stores", "project_vector_stores", "worker_vector_stores"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE vector_store_id = ?", vs.ID).Error; err != nil {
				return fmt.Errorf("vectorstore: clear %s for %d: %w", table, vs.ID, err)
			}
		}
		if err := tx.Delete(&models.VectorStore{}, vs.ID).Error; err != nil {
			return fmt.Errorf("vectorstore: delete %d: %w", vs.ID, err)
		}
		return embedding.RecomputeFiles(tx, fileIDs...)
	})
}
