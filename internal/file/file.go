// Package file manages uploaded documents and their vector store
// memberships.
package file

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/embedding"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/gorm"
)

// Service uploads, deletes and embeds files.
type Service struct {
	gw    remote.Gateway
	maint *embedding.Maintainer
	log   *logger.Logger
}

// NewService returns a Service.
func NewService(gw remote.Gateway, maint *embedding.Maintainer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{gw: gw, maint: maint, log: log.With("component", "file")}
}

// ListOpts filters List.
type ListOpts struct {
	Search   string // substring of the filename
	Purpose  string
	Embedded *bool
}

// Upload sends content to the remote and stores the local row. An empty
// purpose means "assistants".
func (s *Service) Upload(ctx context.Context, db *gorm.DB, filename string, content []byte, purpose string) (*models.File, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, apperr.Invalid("filename", "filename is required")
	}
	if len(content) == 0 {
		return nil, apperr.Invalid("content", "file %s is empty", filename)
	}
	if purpose == "" {
		purpose = remote.PurposeAssistants
	}

	s.log.Info("uploading file", "filename", filename, "bytes", len(content), "purpose", purpose)
	uploaded, err := s.gw.UploadFile(ctx, filename, content, purpose)
	if err != nil {
		return nil, apperr.Sync("file", "upload", err)
	}

	f := models.File{
		ExternalID: &uploaded.ID,
		Filename:   filename,
		Purpose:    purpose,
		Bytes:      uploaded.Bytes,
	}
	if err := db.Create(&f).Error; err != nil {
		return nil, fmt.Errorf("file: create %s: %w", filename, err)
	}
	return &f, nil
}

// Get returns a file by local id.
func Get(db *gorm.DB, id uint) (*models.File, error) {
	var f models.File
	if err := db.First(&f, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("file", id)
		}
		return nil, fmt.Errorf("file: get %d: %w", id, err)
	}
	return &f, nil
}

// GetByExternalID returns a file by its remote id.
func GetByExternalID(db *gorm.DB, externalID string) (*models.File, error) {
	var f models.File
	if err := db.Where("external_id = ?", externalID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("file", externalID)
		}
		return nil, fmt.Errorf("file: get %s: %w", externalID, err)
	}
	return &f, nil
}

// List returns files matching opts, newest first.
func List(db *gorm.DB, opts ListOpts) ([]models.File, error) {
	q := db.Model(&models.File{})
	if opts.Search != "" {
		q = q.Where("LOWER(filename) LIKE ?", "%"+strings.ToLower(opts.Search)+"%")
	}
	if opts.Purpose != "" {
		q = q.Where("purpose = ?", opts.Purpose)
	}
	if opts.Embedded != nil {
		q = q.Where("in_vector_store = ?", *opts.Embedded)
	}
	var out []models.File
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("file: list: %w", err)
	}
	return out, nil
}

// Unembedded returns files that belong to no vector store, judged by both
// the flag and the membership relation.
func Unembedded(db *gorm.DB) ([]models.File, error) {
	var out []models.File
	err := db.Where("in_vector_store = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM vector_store_files WHERE vector_store_files.file_id = files.id)").
		Order("filename, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("file: list unembedded: %w", err)
	}
	return out, nil
}

// Attach embeds the file in the vector store.
func (s *Service) Attach(ctx context.Context, db *gorm.DB, fileID, storeID uint) error {
	return s.maint.Attach(ctx, db, fileID, storeID)
}

// Detach removes the file from the vector store.
func (s *Service) Detach(ctx context.Context, db *gorm.DB, fileID, storeID uint) error {
	return s.maint.Detach(ctx, db, fileID, storeID)
}

// Content downloads the file's bytes from the remote.
func (s *Service) Content(ctx context.Context, db *gorm.DB, id uint) (*models.File, []byte, error) {
	f, err := Get(db, id)
	if err != nil {
		return nil, nil, err
	}
	if f.ExternalID == nil {
		return nil, nil, apperr.Invalid("file", "file %d has no remote id", f.ID)
	}
	data, err := s.gw.RetrieveFileContent(ctx, *f.ExternalID)
	if err != nil {
		return nil, nil, apperr.Sync("file", "download", err)
	}
	return f, data, nil
}

// Delete removes the file remotely, then locally with every membership
// and assignment. A remote failure leaves everything in place.
func (s *Service) Delete(ctx context.Context, db *gorm.DB, id uint) error {
	f, err := Get(db, id)
	if err != nil {
		return err
	}
	if f.ExternalID != nil {
		s.log.Info("deleting file", "file", *f.ExternalID)
		ok, err := s.gw.DeleteFile(ctx, *f.ExternalID)
		if err != nil {
			return apperr.Sync("file", "delete", err)
		}
		if !ok {
			return apperr.Sync("file", "delete", nil)
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", f.ID).Delete(&models.VectorStoreFile{}).Error; err != nil {
			return fmt.Errorf("file: drop memberships of %d: %w", f.ID, err)
		}
		for _, table := range []string{"project_files", "chat_files", "worker_files"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE file_id = ?", f.ID).Error; err != nil {
				return fmt.Errorf("file: clear %s for %d: %w", table, f.ID, err)
			}
		}
		if err := tx.Delete(&models.File{}, f.ID).Error; err != nil {
			return fmt.Errorf("file: delete %d: %w", f.ID, err)
		}
		return nil
	})
}
