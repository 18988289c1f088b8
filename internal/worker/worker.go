// Package worker manages workers and drives their runs on a persistent
// remote thread.
package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/gorm"
)

// Default polling bounds.
const (
	DefaultPollInterval     = time.Second
	DefaultPollTimeout      = 180 * time.Second
	DefaultStepsPollTimeout = 15 * time.Second
)

// Options configures a Service.
type Options struct {
	PollInterval     time.Duration
	PollTimeout      time.Duration
	StepsPollTimeout time.Duration
	// DefaultModel applies to workers created without a model or assistant.
	DefaultModel string
	Log          *logger.Logger
}

// Service manages workers and runs them.
type Service struct {
	gw           remote.Gateway
	interval     time.Duration
	timeout      time.Duration
	stepsTimeout time.Duration
	defaultModel string
	log          *logger.Logger
}

// NewService returns a Service. Zero durations take the defaults.
func NewService(gw remote.Gateway, opts Options) *Service {
	s := &Service{
		gw:           gw,
		interval:     opts.PollInterval,
		timeout:      opts.PollTimeout,
		stepsTimeout: opts.StepsPollTimeout,
		defaultModel: opts.DefaultModel,
		log:          opts.Log,
	}
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.timeout <= 0 {
		s.timeout = DefaultPollTimeout
	}
	if s.stepsTimeout <= 0 {
		s.stepsTimeout = DefaultStepsPollTimeout
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("component", "worker")
	return s
}

// CreateOpts holds parameters for creating a worker.
type CreateOpts struct {
	UserID      uint
	ProjectID   uint
	AssistantID *uint
	Name        string
	Model       string
}

// ListOpts filters List.
type ListOpts struct {
	ProjectID *uint
}

// LogEntry is a worker log with its output ids resolved to local files.
// Ids without a local mirror are omitted from Files.
type LogEntry struct {
	models.WorkerLog
	Files []models.File
}

// Create stores a new worker. The model falls back to the assistant's
// model and then to the configured default.
func (s *Service) Create(db *gorm.DB, opts CreateOpts) (*models.Worker, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "name is required")
	}
	w := models.Worker{
		UserID:      opts.UserID,
		ProjectID:   opts.ProjectID,
		AssistantID: opts.AssistantID,
		Name:        name,
		Model:       strings.TrimSpace(opts.Model),
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Project{}).Where("id = ?", opts.ProjectID).Count(&n).Error; err != nil {
			return fmt.Errorf("worker: check project: %w", err)
		}
		if n == 0 {
			return apperr.NotFound("project", opts.ProjectID)
		}
		if opts.AssistantID != nil {
			var a models.Assistant
			if err := tx.First(&a, *opts.AssistantID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("assistant", *opts.AssistantID)
				}
				return fmt.Errorf("worker: get assistant: %w", err)
			}
			if w.Model == "" {
				w.Model = a.Model
			}
		}
		if w.Model == "" {
			w.Model = s.defaultModel
		}
		if err := tx.Create(&w).Error; err != nil {
			return fmt.Errorf("worker: create %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Get(db, w.ID)
}

// Get returns a worker with its assistant, files and vector stores.
func Get(db *gorm.DB, id uint) (*models.Worker, error) {
	var w models.Worker
	err := db.Preload("Assistant").
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("files.id") }).
		Preload("VectorStores", func(db *gorm.DB) *gorm.DB { return db.Order("vector_stores.id") }).
		First(&w, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("worker", id)
		}
		return nil, fmt.Errorf("worker: get %d: %w", id, err)
	}
	return &w, nil
}

// List returns workers ordered by name.
func List(db *gorm.DB, opts ListOpts) ([]models.Worker, error) {
	q := db.Preload("Assistant").Order("name, id")
	if opts.ProjectID != nil {
		q = q.Where("project_id = ?", *opts.ProjectID)
	}
	var out []models.Worker
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("worker: list: %w", err)
	}
	return out, nil
}

// SetFiles replaces the worker's files. An existing thread keeps the
// resources it was created with; see ResetThread.
func SetFiles(db *gorm.DB, id uint, fileIDs []uint) (*models.Worker, error) {
	return replace(db, id, "Files", func(tx *gorm.DB) (interface{}, int, error) {
		var files []models.File
		if len(fileIDs) > 0 {
			if err := tx.Where("id IN ?", fileIDs).Find(&files).Error; err != nil {
				return nil, 0, err
			}
		}
		return files, len(files), nil
	})
}

// SetVectorStores replaces the worker's vector stores. Only the first with
// a remote id is used by a run.
func SetVectorStores(db *gorm.DB, id uint, storeIDs []uint) (*models.Worker, error) {
	return replace(db, id, "VectorStores", func(tx *gorm.DB) (interface{}, int, error) {
		var stores []models.VectorStore
		if len(storeIDs) > 0 {
			if err := tx.Where("id IN ?", storeIDs).Find(&stores).Error; err != nil {
				return nil, 0, err
			}
		}
		return stores, len(stores), nil
	})
}

func replace(db *gorm.DB, id uint, assoc string, load func(tx *gorm.DB) (interface{}, int, error)) (*models.Worker, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		var w models.Worker
		if err := tx.First(&w, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("worker", id)
			}
			return fmt.Errorf("worker: get %d: %w", id, err)
		}
		values, n, err := load(tx)
		if err != nil {
			return fmt.Errorf("worker: load %s: %w", strings.ToLower(assoc), err)
		}
		a := tx.Model(&w).Association(assoc)
		if n == 0 {
			err = a.Clear()
		} else {
			err = a.Replace(values)
		}
		if err != nil {
			return fmt.Errorf("worker: set %s of %d: %w", strings.ToLower(assoc), id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Get(db, id)
}

// ResetThread forgets the worker's remote thread so the next run creates a
// new one bound to the current files and vector store.
func ResetThread(db *gorm.DB, id uint) error {
	res := db.Model(&models.Worker{}).Where("id = ?", id).Update("thread_id", nil)
	if res.Error != nil {
		return fmt.Errorf("worker: reset thread of %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("worker", id)
	}
	return nil
}

// Delete removes the worker with its logs and assignments. The remote
// thread is left alone.
func Delete(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Worker{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("worker: check %d: %w", id, err)
		}
		if n == 0 {
			return apperr.NotFound("worker", id)
		}
		if err := tx.Where("worker_id = ?", id).Delete(&models.WorkerLog{}).Error; err != nil {
			return fmt.Errorf("worker: delete logs of %d: %w", id, err)
		}
		for _, table := range []string{"worker_files", "worker_vector_stores"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE worker_id = ?", id).Error; err != nil {
				return fmt.Errorf("worker: clear %s for %d: %w", table, id, err)
			}
		}
		if err := tx.Delete(&models.Worker{}, id).Error; err != nil {
			return fmt.Errorf("worker: delete %d: %w", id, err)
		}
		return nil
	})
}

// Logs returns the worker's run history newest first.
func Logs(db *gorm.DB, workerID uint) ([]LogEntry, error) {
	var n int64
	if err := db.Model(&models.Worker{}).Where("id = ?", workerID).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("worker: check %d: %w", workerID, err)
	}
	if n == 0 {
		return nil, apperr.NotFound("worker", workerID)
	}
	var logs []models.WorkerLog
	if err := db.Where("worker_id = ?", workerID).Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("worker: logs of %d: %w", workerID, err)
	}

	var ids []string
	for _, l := range logs {
		ids = append(ids, l.OutputFileIDs...)
	}
	byExt := make(map[string]models.File)
	if len(ids) > 0 {
		var files []models.File
		if err := db.Where("external_id IN ?", ids).Find(&files).Error; err != nil {
			return nil, fmt.Errorf("worker: resolve output files: %w", err)
		}
		for _, f := range files {
			byExt[*f.ExternalID] = f
		}
	}

	out := make([]LogEntry, 0, len(logs))
	for _, l := range logs {
		e := LogEntry{WorkerLog: l}
		for _, id := range l.OutputFileIDs {
			if f, ok := byExt[id]; ok {
				e.Files = append(e.Files, f)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
