// Package embedding keeps each File's derived embedding fields equal to its
// vector store memberships.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/logger"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPageSize bounds each store's remote membership listing.
const DefaultPageSize = 100

// Maintainer diffs remote memberships into the relation and recomputes the
// derived File fields from it.
type Maintainer struct {
	gw  remote.Gateway
	log *logger.Logger
}

// RebuildResult summarizes a multi-store rebuild.
type RebuildResult struct {
	Changed   int // membership rows added or removed
	Processed int // stores whose remote listing succeeded
	Skipped   int // stores left stale because their listing failed
}

// New returns a Maintainer.
func New(gw remote.Gateway, log *logger.Logger) *Maintainer {
	if log == nil {
		log = logger.Nop()
	}
	return &Maintainer{gw: gw, log: log.With("component", "embedding")}
}

// Rebuild lists the remote files of every store with an external id,
// reconciles the membership rows, then recomputes every File with an
// external id. A failed listing is logged and that store is skipped. Run it
// inside the caller's transaction so the result commits once.
func (m *Maintainer) Rebuild(ctx context.Context, tx *gorm.DB, pageSize int) (RebuildResult, error) {
	var res RebuildResult
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var stores []models.VectorStore
	if err := tx.Where("external_id IS NOT NULL").Order("id").Find(&stores).Error; err != nil {
		return res, fmt.Errorf("embedding: list stores: %w", err)
	}

	for _, vs := range stores {
		remoteIDs, err := m.gw.ListVectorStoreFiles(ctx, *vs.ExternalID, pageSize)
		if err != nil {
			m.log.Warn("vector store file listing failed; cache left stale",
				"vector_store", *vs.ExternalID, "error", err.Error())
			res.Skipped++
			continue
		}
		changed, err := syncStore(tx, vs.ID, remoteIDs)
		if err != nil {
			return res, err
		}
		res.Changed += changed
		res.Processed++
	}

	if err := RecomputeAll(tx); err != nil {
		return res, err
	}
	return res, nil
}

// syncStore makes the store's membership rows match the remote file ids
// that resolve to local Files. Unknown remote ids are ignored.
func syncStore(tx *gorm.DB, storeID uint, remoteIDs []string) (int, error) {
	wanted := make(map[uint]bool)
	if len(remoteIDs) > 0 {
		var files []models.File
		if err := tx.Where("external_id IN ?", remoteIDs).Find(&files).Error; err != nil {
			return 0, fmt.Errorf("embedding: resolve files for store %d: %w", storeID, err)
		}
		for _, f := range files {
			wanted[f.ID] = true
		}
	}

	var current []models.VectorStoreFile
	if err := tx.Where("vector_store_id = ?", storeID).Find(&current).Error; err != nil {
		return 0, fmt.Errorf("embedding: load memberships for store %d: %w", storeID, err)
	}

	changed := 0
	have := make(map[uint]bool, len(current))
	for _, row := range current {
		have[row.FileID] = true
		if wanted[row.FileID] {
			continue
		}
		if err := tx.Where("vector_store_id = ? AND file_id = ?", storeID, row.FileID).
			Delete(&models.VectorStoreFile{}).Error; err != nil {
			return 0, fmt.Errorf("embedding: remove membership %d/%d: %w", storeID, row.FileID, err)
		}
		changed++
	}

	add := make([]uint, 0, len(wanted))
	for id := range wanted {
		if !have[id] {
			add = append(add, id)
		}
	}
	sort.Slice(add, func(i, j int) bool { return add[i] < add[j] })
	for _, fileID := range add {
		if err := tx.Create(&models.VectorStoreFile{VectorStoreID: storeID, FileID: fileID}).Error; err != nil {
			return 0, fmt.Errorf("embedding: add membership %d/%d: %w", storeID, fileID, err)
		}
		changed++
	}
	return changed, nil
}

// RecomputeAll rewrites the derived fields of every File with an external id.
func RecomputeAll(tx *gorm.DB) error {
	var ids []uint
	if err := tx.Model(&models.File{}).Where("external_id IS NOT NULL").Order("id").Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("embedding: list files: %w", err)
	}
	return RecomputeFiles(tx, ids...)
}

type membership struct {
	FileID     uint
	ExternalID string
}

// RecomputeFiles rewrites InVectorStore and VectorStoreIDsCache for the
// given files from the membership relation. Only stores with an external id
// count. The cache holds the sorted store ids, or null when there are none.
func RecomputeFiles(tx *gorm.DB, fileIDs ...uint) error {
	if len(fileIDs) == 0 {
		return nil
	}

	var rows []membership
	err := tx.Table("vector_store_files").
		Select("vector_store_files.file_id AS file_id, vector_stores.external_id AS external_id").
		Joins("JOIN vector_stores ON vector_stores.id = vector_store_files.vector_store_id").
		Where("vector_stores.external_id IS NOT NULL").
		Where("vector_store_files.file_id IN ?", fileIDs).
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("embedding: load memberships: %w", err)
	}

	byFile := make(map[uint][]string, len(fileIDs))
	for _, r := range rows {
		byFile[r.FileID] = append(byFile[r.FileID], r.ExternalID)
	}

	for _, id := range fileIDs {
		storeIDs := byFile[id]
		sort.Strings(storeIDs)
		var cache datatypes.JSONSlice[string]
		if len(storeIDs) > 0 {
			cache = datatypes.JSONSlice[string](storeIDs)
		}
		err := tx.Model(&models.File{}).Where("id = ?", id).Updates(map[string]interface{}{
			"in_vector_store":        len(storeIDs) > 0,
			"vector_store_ids_cache": cache,
		}).Error
		if err != nil {
			return fmt.Errorf("embedding: update file %d: %w", id, err)
		}
	}
	return nil
}

// Attach adds a file to a vector store remotely and records the membership.
// Both sides must already carry external ids; otherwise nothing is called.
func (m *Maintainer) Attach(ctx context.Context, db *gorm.DB, fileID, storeID uint) error {
	file, store, err := loadPair(db, fileID, storeID)
	if err != nil {
		return err
	}
	if file.ExternalID == nil {
		return apperr.Invalid("file", "file %d has no remote id yet", file.ID)
	}
	if store.ExternalID == nil {
		return apperr.Invalid("vector_store", "vector store %d has no remote id yet", store.ID)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := m.gw.AddVectorStoreFile(ctx, *store.ExternalID, *file.ExternalID); err != nil {
			return apperr.Sync("vector_store", "attach file", err)
		}
		row := models.VectorStoreFile{VectorStoreID: store.ID, FileID: file.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("embedding: record membership: %w", err)
		}
		m.log.Info("file attached", "file", *file.ExternalID, "vector_store", *store.ExternalID)
		return RecomputeFiles(tx, file.ID)
	})
}

// Detach removes a file from a vector store remotely and drops the
// membership. A pair without external ids has no remote side and is only
// removed locally.
func (m *Maintainer) Detach(ctx context.Context, db *gorm.DB, fileID, storeID uint) error {
	file, store, err := loadPair(db, fileID, storeID)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if file.ExternalID != nil && store.ExternalID != nil {
			ok, err := m.gw.RemoveVectorStoreFile(ctx, *store.ExternalID, *file.ExternalID)
			if err != nil {
				return apperr.Sync("vector_store", "detach file", err)
			}
			if !ok {
				return apperr.Sync("vector_store", "detach file", nil)
			}
		}
		if err := tx.Where("vector_store_id = ? AND file_id = ?", store.ID, file.ID).
			Delete(&models.VectorStoreFile{}).Error; err != nil {
			return fmt.Errorf("embedding: remove membership: %w", err)
		}
		m.log.Info("file detached", "file_id", file.ID, "vector_store_id", store.ID)
		return RecomputeFiles(tx, file.ID)
	})
}

func loadPair(db *gorm.DB, fileID, storeID uint) (*models.File, *models.VectorStore, error) {
	var file models.File
	if err := db.First(&file, fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("file", fileID)
		}
		return nil, nil, fmt.Errorf("embedding: get file %d: %w", fileID, err)
	}
	var store models.VectorStore
	if err := db.First(&store, storeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("vector_store", storeID)
		}
		return nil, nil, fmt.Errorf("embedding: get vector store %d: %w", storeID, err)
	}
	return &file, &store, nil
}
