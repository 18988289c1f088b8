// Package reconcile merges remote collections into the local mirror. Rows
// are matched by external id; pulls add and update but never delete.
package reconcile

import (
	"context"
	"fmt"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/embedding"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/gorm"
)

// PullLimit is the page size requested from remote list calls.
const PullLimit = 100

// MembershipPageSize is the per-store page size for membership-only syncs.
const MembershipPageSize = 200

// Resource kinds accepted by Pull.
const (
	KindAssistants   = "assistants"
	KindVectorStores = "vector_stores"
	KindFiles        = "files"
)

// Kinds lists every pullable resource kind in pull order. Files come
// before vector stores so the membership rebuild can resolve new members.
var Kinds = []string{KindAssistants, KindFiles, KindVectorStores}

// Result counts the outcome of one pull.
type Result struct {
	Added   int
	Updated int
}

// MembershipResult counts the outcome of a membership-only sync.
type MembershipResult struct {
	Changed         int
	StoresProcessed int
}

// Engine pulls remote collections into the local store.
type Engine struct {
	gw    remote.Gateway
	maint *embedding.Maintainer
	log   *logger.Logger
}

// New returns an Engine. maint runs the cache rebuild after vector store
// pulls.
func New(gw remote.Gateway, maint *embedding.Maintainer, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{gw: gw, maint: maint, log: log.With("component", "reconcile")}
}

// Pull dispatches to the pull for kind.
func (e *Engine) Pull(ctx context.Context, db *gorm.DB, kind string) (Result, error) {
	switch kind {
	case KindAssistants:
		return e.PullAssistants(ctx, db)
	case KindVectorStores:
		return e.PullVectorStores(ctx, db)
	case KindFiles:
		return e.PullFiles(ctx, db, "")
	default:
		return Result{}, apperr.Invalid("kind", "unknown resource kind %q (want assistants, vector_stores or files)", kind)
	}
}

// PullAssistants mirrors the remote assistant list. A matched row counts
// as updated only when a mirrored field differed.
func (e *Engine) PullAssistants(ctx context.Context, db *gorm.DB) (Result, error) {
	var res Result
	list, err := e.gw.ListAssistants(ctx, PullLimit)
	if err != nil {
		return res, apperr.Sync("assistant", "list", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, item := range list {
			if item.ID == "" {
				continue
			}
			name := item.Name
			if name == "" {
				name = "Unnamed"
			}
			var existing models.Assistant
			found, err := findByExternalID(tx, &existing, item.ID)
			if err != nil {
				return err
			}
			if !found {
				row := models.Assistant{
					ExternalID:   strPtr(item.ID),
					Name:         name,
					Model:        item.Model,
					Description:  item.Description,
					Instructions: item.Instructions,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("reconcile: create assistant %s: %w", item.ID, err)
				}
				res.Added++
				continue
			}
			if existing.Name == name && existing.Model == item.Model &&
				existing.Description == item.Description && existing.Instructions == item.Instructions {
				continue
			}
			existing.Name = name
			existing.Model = item.Model
			existing.Description = item.Description
			existing.Instructions = item.Instructions
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("reconcile: update assistant %s: %w", item.ID, err)
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("assistants pulled", "remote", len(list), "added", res.Added, "updated", res.Updated)
	return res, nil
}

// PullVectorStores mirrors the remote store list, then rebuilds every
// store's membership and the file caches in the same transaction.
func (e *Engine) PullVectorStores(ctx context.Context, db *gorm.DB) (Result, error) {
	var res Result
	list, err := e.gw.ListVectorStores(ctx, PullLimit)
	if err != nil {
		return res, apperr.Sync("vector_store", "list", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, item := range list {
			if item.ID == "" {
				continue
			}
			var existing models.VectorStore
			found, err := findByExternalID(tx, &existing, item.ID)
			if err != nil {
				return err
			}
			if !found {
				name := item.Name
				if name == "" {
					name = "Unnamed"
				}
				if err := tx.Create(&models.VectorStore{ExternalID: strPtr(item.ID), Name: name}).Error; err != nil {
					return fmt.Errorf("reconcile: create vector store %s: %w", item.ID, err)
				}
				res.Added++
				continue
			}
			if item.Name == "" || item.Name == existing.Name {
				continue
			}
			if err := tx.Model(&existing).Update("name", item.Name).Error; err != nil {
				return fmt.Errorf("reconcile: update vector store %s: %w", item.ID, err)
			}
			res.Updated++
		}

		rb, err := e.maint.Rebuild(ctx, tx, PullLimit)
		if err != nil {
			return err
		}
		if rb.Skipped > 0 {
			e.log.Warn("membership rebuild left stores stale", "skipped", rb.Skipped)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("vector stores pulled", "remote", len(list), "added", res.Added, "updated", res.Updated)
	return res, nil
}

// PullFiles mirrors the remote file list, optionally filtered by purpose.
// A matched row is updated when its filename or size changed. When rows
// were added, memberships are rebuilt in the same transaction so the new
// files pick up the stores that already hold them.
func (e *Engine) PullFiles(ctx context.Context, db *gorm.DB, purpose string) (Result, error) {
	var res Result
	list, err := e.gw.ListFiles(ctx, purpose)
	if err != nil {
		return res, apperr.Sync("file", "list", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, item := range list {
			if item.ID == "" {
				continue
			}
			var existing models.File
			found, err := findByExternalID(tx, &existing, item.ID)
			if err != nil {
				return err
			}
			if !found {
				row := models.File{
					ExternalID: strPtr(item.ID),
					Filename:   orDefault(item.Filename, "unnamed"),
					Purpose:    orDefault(item.Purpose, remote.PurposeAssistants),
					Bytes:      item.Bytes,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("reconcile: create file %s: %w", item.ID, err)
				}
				res.Added++
				continue
			}
			updates := map[string]interface{}{}
			if item.Filename != "" && item.Filename != existing.Filename {
				updates["filename"] = item.Filename
			}
			if item.Bytes != 0 && item.Bytes != existing.Bytes {
				updates["bytes"] = item.Bytes
			}
			if len(updates) == 0 {
				continue
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("reconcile: update file %s: %w", item.ID, err)
			}
			res.Updated++
		}
		if res.Added == 0 {
			return nil
		}
		rb, err := e.maint.Rebuild(ctx, tx, PullLimit)
		if err != nil {
			return err
		}
		if rb.Skipped > 0 {
			e.log.Warn("membership rebuild left stores stale", "skipped", rb.Skipped)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("files pulled", "remote", len(list), "purpose", purpose, "added", res.Added, "updated", res.Updated)
	return res, nil
}

// SyncMemberships rebuilds store memberships and file caches without
// pulling the store list itself.
func (e *Engine) SyncMemberships(ctx context.Context, db *gorm.DB) (MembershipResult, error) {
	var out MembershipResult
	err := db.Transaction(func(tx *gorm.DB) error {
		rb, err := e.maint.Rebuild(ctx, tx, MembershipPageSize)
		if err != nil {
			return err
		}
		out.Changed = rb.Changed
		out.StoresProcessed = rb.Processed + rb.Skipped
		return nil
	})
	if err != nil {
		return MembershipResult{}, err
	}
	e.log.Info("memberships synced", "changed", out.Changed, "stores", out.StoresProcessed)
	return out, nil
}

func findByExternalID(tx *gorm.DB, dst interface{}, externalID string) (bool, error) {
	result := tx.Where("external_id = ?", externalID).Limit(1).Find(dst)
	if result.Error != nil {
		return false, fmt.Errorf("reconcile: lookup %s: %w", externalID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func strPtr(s string) *string { return &s }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
