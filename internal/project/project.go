// Package project manages projects and their explicit file lists. A file
// in that list is handed to chats and workers directly, so it must not be
// embedded in any vector store.
package project

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/models"
	"gorm.io/gorm"
)

// CreateOpts holds parameters for creating a project.
type CreateOpts struct {
	UserID      uint
	Name        string
	Description string
}

// AvailableOpts filters AvailableFiles.
type AvailableOpts struct {
	Search       string
	OnlySelected bool
}

// Create stores a new project.
func Create(db *gorm.DB, opts CreateOpts) (*models.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "name is required")
	}
	p := models.Project{UserID: opts.UserID, Name: name, Description: opts.Description}
	if err := db.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("project: create %s: %w", name, err)
	}
	return &p, nil
}

// Get returns a project with its files and vector stores.
func Get(db *gorm.DB, id uint) (*models.Project, error) {
	var p models.Project
	err := db.Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("files.filename") }).
		Preload("VectorStores").
		First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("project", id)
		}
		return nil, fmt.Errorf("project: get %d: %w", id, err)
	}
	return &p, nil
}

// List returns all projects, newest first.
func List(db *gorm.DB) ([]models.Project, error) {
	var out []models.Project
	if err := db.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("project: list: %w", err)
	}
	return out, nil
}

// notEmbedded restricts a files query to files that are neither flagged
// nor related to any vector store.
func notEmbedded(q *gorm.DB) *gorm.DB {
	return q.Where("files.in_vector_store = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM vector_store_files WHERE vector_store_files.file_id = files.id)")
}

// SetFiles replaces the project's file list. Embedded files are rejected
// and nothing changes.
func SetFiles(db *gorm.DB, projectID uint, fileIDs []uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.First(&p, projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("project", projectID)
			}
			return fmt.Errorf("project: get %d: %w", projectID, err)
		}

		ids := dedupeIDs(fileIDs)
		var files []models.File
		if len(ids) > 0 {
			if err := tx.Where("id IN ?", ids).Order("id").Find(&files).Error; err != nil {
				return fmt.Errorf("project: load files: %w", err)
			}
			if len(files) != len(ids) {
				found := make(map[uint]bool, len(files))
				for _, f := range files {
					found[f.ID] = true
				}
				for _, id := range ids {
					if !found[id] {
						return apperr.NotFound("file", id)
					}
				}
			}
			var eligible []uint
			if err := notEmbedded(tx.Model(&models.File{}).Where("files.id IN ?", ids)).
				Pluck("files.id", &eligible).Error; err != nil {
				return fmt.Errorf("project: check files: %w", err)
			}
			if len(eligible) != len(ids) {
				ok := make(map[uint]bool, len(eligible))
				for _, id := range eligible {
					ok[id] = true
				}
				for _, f := range files {
					if !ok[f.ID] {
						return apperr.Invalid("file_ids", "file %s is embedded in a vector store", f.Filename)
					}
				}
			}
		}

		assoc := tx.Model(&p).Association("Files")
		var err error
		if len(files) == 0 {
			err = assoc.Clear()
		} else {
			err = assoc.Replace(files)
		}
		if err != nil {
			return fmt.Errorf("project: set files of %d: %w", projectID, err)
		}
		return nil
	})
}

// UnembeddedFiles returns the project's files that are not embedded
// anywhere, ordered by id.
func UnembeddedFiles(db *gorm.DB, projectID uint) ([]models.File, error) {
	var out []models.File
	q := db.Joins("JOIN project_files ON project_files.file_id = files.id").
		Where("project_files.project_id = ?", projectID)
	if err := notEmbedded(q).Order("files.id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("project: unembedded files of %d: %w", projectID, err)
	}
	return out, nil
}

// AvailableFiles lists files that may be put on the project's list,
// newest first. OnlySelected narrows to the ones already on it.
func AvailableFiles(db *gorm.DB, projectID uint, opts AvailableOpts) ([]models.File, error) {
	if _, err := Get(db, projectID); err != nil {
		return nil, err
	}
	q := notEmbedded(db.Model(&models.File{}))
	if opts.Search != "" {
		q = q.Where("LOWER(files.filename) LIKE ?", "%"+strings.ToLower(opts.Search)+"%")
	}
	if opts.OnlySelected {
		q = q.Where("files.id IN (SELECT file_id FROM project_files WHERE project_id = ?)", projectID)
	}
	var out []models.File
	if err := q.Order("files.created_at DESC, files.id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("project: available files: %w", err)
	}
	return out, nil
}

// Delete removes the project. Its chats are detached and kept; its workers
// are deleted with their logs.
func Delete(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("project", id)
			}
			return fmt.Errorf("project: get %d: %w", id, err)
		}

		if err := tx.Model(&models.Chat{}).Where("project_id = ?", id).
			Update("project_id", nil).Error; err != nil {
			return fmt.Errorf("project: detach chats of %d: %w", id, err)
		}

		var workerIDs []uint
		if err := tx.Model(&models.Worker{}).Where("project_id = ?", id).Pluck("id", &workerIDs).Error; err != nil {
			return fmt.Errorf("project: workers of %d: %w", id, err)
		}
		if len(workerIDs) > 0 {
			for _, table := range []string{"worker_files", "worker_vector_stores"} {
				if err := tx.Exec("DELETE FROM "+table+" WHERE worker_id IN ?", workerIDs).Error; err != nil {
					return fmt.Errorf("project: clear %s: %w", table, err)
				}
			}
			if err := tx.Where("worker_id IN ?", workerIDs).Delete(&models.WorkerLog{}).Error; err != nil {
				return fmt.Errorf("project: delete worker logs: %w", err)
			}
			if err := tx.Delete(&models.Worker{}, workerIDs).Error; err != nil {
				return fmt.Errorf("project: delete workers: %w", err)
			}
		}

		for _, table := range []string{"project_files", "project_vector_stores"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE project_id = ?", id).Error; err != nil {
				return fmt.Errorf("project: clear %s: %w", table, err)
			}
		}
		if err := tx.Delete(&models.Project{}, id).Error; err != nil {
			return fmt.Errorf("project: delete %d: %w", id, err)
		}
		return nil
	})
}

func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
