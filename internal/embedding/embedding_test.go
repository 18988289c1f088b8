package embedding

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/remote"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.VectorStore{}, &models.File{}, &models.VectorStoreFile{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

func createStore(t *testing.T, db *gorm.DB, name string, ext *string) *models.VectorStore {
	t.Helper()
	vs := models.VectorStore{Name: name, ExternalID: ext}
	if err := db.Create(&vs).Error; err != nil {
		t.Fatalf("create store: %v", err)
	}
	return &vs
}

func createFile(t *testing.T, db *gorm.DB, name string, ext *string) *models.File {
	t.Helper()
	f := models.File{Filename: name, Purpose: "assistants", ExternalID: ext}
	if err := db.Create(&f).Error; err != nil {
		t.Fatalf("create file: %v", err)
	}
	return &f
}

func reload(t *testing.T, db *gorm.DB, id uint) models.File {
	t.Helper()
	var f models.File
	if err := db.First(&f, id).Error; err != nil {
		t.Fatalf("reload file %d: %v", id, err)
	}
	return f
}

// assertInvariant checks every file's derived fields against the relation.
func assertInvariant(t *testing.T, db *gorm.DB) {
	t.Helper()
	var files []models.File
	db.Find(&files)
	for _, f := range files {
		var want []string
		db.Table("vector_store_files").
			Joins("JOIN vector_stores ON vector_stores.id = vector_store_files.vector_store_id").
			Where("vector_store_files.file_id = ? AND vector_stores.external_id IS NOT NULL", f.ID).
			Pluck("vector_stores.external_id", &want)
		sort.Strings(want)
		if f.InVectorStore != (len(f.VectorStoreIDsCache) > 0) {
			t.Errorf("file %s: flag %v disagrees with cache %v", f.Filename, f.InVectorStore, f.VectorStoreIDsCache)
		}
		if strings.Join(f.VectorStoreIDsCache, ",") != strings.Join(want, ",") {
			t.Errorf("file %s: cache %v, relation %v", f.Filename, f.VectorStoreIDsCache, want)
		}
	}
}

func TestAttachDetach_Scenario(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	m := New(gw, nil)
	ctx := context.Background()

	a := createStore(t, db, "A", strPtr("vs_a"))
	f := createFile(t, db, "F.pdf", strPtr("file_f"))

	if err := m.Attach(ctx, db, f.ID, a.ID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	got := reload(t, db, f.ID)
	if !got.InVectorStore {
		t.Error("InVectorStore = false after attach")
	}
	if strings.Join(got.VectorStoreIDsCache, ",") != "vs_a" {
		t.Errorf("cache = %v, want [vs_a]", got.VectorStoreIDsCache)
	}
	if ids := gw.StoreFiles("vs_a"); len(ids) != 1 || ids[0] != "file_f" {
		t.Errorf("remote membership = %v", ids)
	}
	assertInvariant(t, db)

	if err := m.Detach(ctx, db, f.ID, a.ID); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	got = reload(t, db, f.ID)
	if got.InVectorStore {
		t.Error("InVectorStore = true after detach")
	}
	if len(got.VectorStoreIDsCache) != 0 {
		t.Errorf("cache = %v, want empty", got.VectorStoreIDsCache)
	}
	if gw.CallCount("RemoveVectorStoreFile") != 1 {
		t.Error("detach did not call the remote")
	}
	assertInvariant(t, db)
}

func TestAttach_RequiresExternalIDs(t *testing.T) {
	tests := []struct {
		name      string
		fileExt   *string
		storeExt  *string
		wantField string
	}{
		{"file without remote id", nil, strPtr("vs_a"), "file"},
		{"store without remote id", strPtr("file_f"), nil, "vector_store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			gw := remote.NewMockGateway()
			m := New(gw, nil)

			vs := createStore(t, db, "A", tt.storeExt)
			f := createFile(t, db, "F.pdf", tt.fileExt)

			err := m.Attach(context.Background(), db, f.ID, vs.ID)
			var verr *apperr.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
			if n := gw.CallCount("AddVectorStoreFile"); n != 0 {
				t.Errorf("remote attach called %d times", n)
			}
			var rows int64
			db.Model(&models.VectorStoreFile{}).Count(&rows)
			if rows != 0 {
				t.Errorf("membership rows = %d, want 0", rows)
			}
			if reload(t, db, f.ID).InVectorStore {
				t.Error("file flagged embedded")
			}
		})
	}
}

func TestAttach_RemoteFailureLeavesStateUntouched(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	gw.FailOn("AddVectorStoreFile", errors.New("http 500"))
	m := New(gw, nil)

	vs := createStore(t, db, "A", strPtr("vs_a"))
	f := createFile(t, db, "F.pdf", strPtr("file_f"))

	err := m.Attach(context.Background(), db, f.ID, vs.ID)
	if !apperr.IsSync(err) {
		t.Fatalf("err = %v, want SyncError", err)
	}
	var rows int64
	db.Model(&models.VectorStoreFile{}).Count(&rows)
	if rows != 0 {
		t.Errorf("membership rows = %d, want 0", rows)
	}
}

func TestDetach_RemoteRefusalKeepsMembership(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	m := New(gw, nil)
	ctx := context.Background()

	vs := createStore(t, db, "A", strPtr("vs_a"))
	f := createFile(t, db, "F.pdf", strPtr("file_f"))
	if err := m.Attach(ctx, db, f.ID, vs.ID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	// Remote no longer lists the file, so removal reports deleted=false.
	gw.SetStoreFiles("vs_a")

	if err := m.Detach(ctx, db, f.ID, vs.ID); !apperr.IsSync(err) {
		t.Fatalf("err = %v, want SyncError", err)
	}
	if !reload(t, db, f.ID).InVectorStore {
		t.Error("file lost its membership after a refused detach")
	}
}

func TestAttach_UnknownRows(t *testing.T) {
	db := testDB(t)
	m := New(remote.NewMockGateway(), nil)
	if err := m.Attach(context.Background(), db, 99, 1); !apperr.IsNotFound(err) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestRebuild(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	m := New(gw, nil)

	a := createStore(t, db, "A", strPtr("vs_a"))
	createStore(t, db, "B", strPtr("vs_b"))
	createStore(t, db, "local only", nil)
	f1 := createFile(t, db, "one.pdf", strPtr("file_1"))
	f2 := createFile(t, db, "two.pdf", strPtr("file_2"))
	f3 := createFile(t, db, "three.pdf", strPtr("file_3"))

	// f3 is linked to A locally but no longer remotely.
	db.Create(&models.VectorStoreFile{VectorStoreID: a.ID, FileID: f3.ID})

	gw.SetStoreFiles("vs_a", "file_1", "file_2", "file_unknown")
	gw.SetStoreFiles("vs_b", "file_1")

	var res RebuildResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = m.Rebuild(context.Background(), tx, 0)
		return err
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Processed != 2 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 2 processed", res)
	}
	// +f1 +f2 -f3 on A, +f1 on B
	if res.Changed != 4 {
		t.Errorf("Changed = %d, want 4", res.Changed)
	}

	if got := reload(t, db, f1.ID).VectorStoreIDsCache; strings.Join(got, ",") != "vs_a,vs_b" {
		t.Errorf("f1 cache = %v, want sorted [vs_a vs_b]", got)
	}
	if got := reload(t, db, f2.ID).VectorStoreIDsCache; strings.Join(got, ",") != "vs_a" {
		t.Errorf("f2 cache = %v", got)
	}
	if reload(t, db, f3.ID).InVectorStore {
		t.Error("f3 still flagged after remote removal")
	}
	var unknown int64
	db.Model(&models.File{}).Where("external_id = ?", "file_unknown").Count(&unknown)
	if unknown != 0 {
		t.Error("rebuild created a file for an unknown remote id")
	}
	assertInvariant(t, db)
}

func TestRebuild_SkipsFailingStore(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	m := New(gw, nil)

	a := createStore(t, db, "A", strPtr("vs_a"))
	createStore(t, db, "B", strPtr("vs_b"))
	f1 := createFile(t, db, "one.pdf", strPtr("file_1"))
	f2 := createFile(t, db, "two.pdf", strPtr("file_2"))
	db.Create(&models.VectorStoreFile{VectorStoreID: a.ID, FileID: f1.ID})

	gw.FailOn("ListVectorStoreFiles:vs_a", errors.New("timeout"))
	gw.SetStoreFiles("vs_a")
	gw.SetStoreFiles("vs_b", "file_2")

	res, err := m.Rebuild(context.Background(), db, 200)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 processed 1 skipped", res)
	}
	// A's membership is stale but kept.
	if got := reload(t, db, f1.ID).VectorStoreIDsCache; strings.Join(got, ",") != "vs_a" {
		t.Errorf("f1 cache = %v, want stale [vs_a]", got)
	}
	if !reload(t, db, f2.ID).InVectorStore {
		t.Error("f2 not flagged after B listed it")
	}
	assertInvariant(t, db)
}

func TestRecomputeFiles_IgnoresStoresWithoutRemoteID(t *testing.T) {
	db := testDB(t)
	local := createStore(t, db, "draft", nil)
	f := createFile(t, db, "one.pdf", strPtr("file_1"))
	db.Create(&models.VectorStoreFile{VectorStoreID: local.ID, FileID: f.ID})

	if err := RecomputeFiles(db, f.ID); err != nil {
		t.Fatalf("RecomputeFiles: %v", err)
	}
	if got := reload(t, db, f.ID); got.InVectorStore || len(got.VectorStoreIDsCache) != 0 {
		t.Errorf("file = %+v, want not embedded", got)
	}
}

func TestRecomputeFiles_NoIDs(t *testing.T) {
	if err := RecomputeFiles(testDB(t)); err != nil {
		t.Errorf("RecomputeFiles() = %v, want nil", err)
	}
}
