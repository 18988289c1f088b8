package file

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/embedding"
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
	if err := db.AutoMigrate(
		&models.VectorStore{}, &models.File{}, &models.VectorStoreFile{},
		&models.Project{}, &models.ChatRole{}, &models.Chat{}, &models.Message{},
		&models.Assistant{}, &models.Worker{}, &models.WorkerLog{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newService(gw remote.Gateway) *Service {
	return NewService(gw, embedding.New(gw, nil), nil)
}

func TestUpload(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()

	f, err := newService(gw).Upload(context.Background(), db, "/tmp/uploads/report.pdf", []byte("%PDF-1.4"), "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want base name", f.Filename)
	}
	if f.Purpose != "assistants" {
		t.Errorf("Purpose = %q, want assistants", f.Purpose)
	}
	if f.Bytes != 8 {
		t.Errorf("Bytes = %d, want 8", f.Bytes)
	}
	if f.ExternalID == nil {
		t.Error("ExternalID not set")
	}
	if f.Embedded() {
		t.Error("new upload flagged embedded")
	}
}

func TestUpload_Validation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"no filename", " ", []byte("x")},
		{"empty content", "a.txt", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := remote.NewMockGateway()
			_, err := newService(gw).Upload(context.Background(), testDB(t), tt.filename, tt.content, "")
			if !apperr.IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if gw.CallCount("UploadFile") != 0 {
				t.Error("remote upload called")
			}
		})
	}
}

func TestContent(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	s := newService(gw)
	ctx := context.Background()

	f, err := s.Upload(ctx, db, "notes.txt", []byte("hello"), "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, data, err := s.Content(ctx, db, f.ID)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if got.ID != f.ID || string(data) != "hello" {
		t.Errorf("Content = %d %q", got.ID, data)
	}

	local := models.File{Filename: "local.txt"}
	db.Create(&local)
	if _, _, err := s.Content(ctx, db, local.ID); !apperr.IsValidation(err) {
		t.Errorf("Content of local-only file = %v, want ValidationError", err)
	}
}

func TestListFilters(t *testing.T) {
	db := testDB(t)
	db.Create(&models.File{Filename: "Report.pdf", Purpose: "assistants", InVectorStore: true})
	db.Create(&models.File{Filename: "notes.txt", Purpose: "assistants"})
	db.Create(&models.File{Filename: "chart.png", Purpose: "assistants_output"})

	yes, no := true, false
	tests := []struct {
		name string
		opts ListOpts
		want int
	}{
		{"all", ListOpts{}, 3},
		{"search is case-insensitive", ListOpts{Search: "report"}, 1},
		{"purpose", ListOpts{Purpose: "assistants_output"}, 1},
		{"embedded", ListOpts{Embedded: &yes}, 1},
		{"not embedded", ListOpts{Embedded: &no}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := List(db, tt.opts)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestUnembedded_ChecksRelationToo(t *testing.T) {
	db := testDB(t)
	vs := models.VectorStore{Name: "draft"}
	db.Create(&vs)
	free := models.File{Filename: "free.txt"}
	linked := models.File{Filename: "linked.txt"}
	db.Create(&free)
	db.Create(&linked)
	// A store without a remote id leaves the flag false but the relation set.
	db.Create(&models.VectorStoreFile{VectorStoreID: vs.ID, FileID: linked.ID})

	got, err := Unembedded(db)
	if err != nil {
		t.Fatalf("Unembedded: %v", err)
	}
	if len(got) != 1 || got[0].ID != free.ID {
		t.Errorf("Unembedded = %+v, want only free.txt", got)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	s := newService(gw)
	ctx := context.Background()

	f, err := s.Upload(ctx, db, "a.txt", []byte("a"), "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ext := "vs_1"
	vs := models.VectorStore{Name: "A", ExternalID: &ext}
	db.Create(&vs)
	if err := s.Attach(ctx, db, f.ID, vs.ID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	p := models.Project{Name: "p", Files: []models.File{*f}}
	db.Create(&p)

	if err := s.Delete(ctx, db, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Get(db, f.ID); !apperr.IsNotFound(err) {
		t.Errorf("Get after delete = %v", err)
	}
	var n int64
	db.Model(&models.VectorStoreFile{}).Count(&n)
	if n != 0 {
		t.Errorf("memberships = %d, want 0", n)
	}
	db.Table("project_files").Count(&n)
	if n != 0 {
		t.Errorf("project_files = %d, want 0", n)
	}
}

func TestDelete_RemoteFailure(t *testing.T) {
	db := testDB(t)
	gw := remote.NewMockGateway()
	s := newService(gw)
	f, err := s.Upload(context.Background(), db, "a.txt", []byte("a"), "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	gw.FailOn("DeleteFile", errors.New("500"))

	if err := s.Delete(context.Background(), db, f.ID); !apperr.IsSync(err) {
		t.Fatalf("err = %v, want SyncError", err)
	}
	if _, err := Get(db, f.ID); err != nil {
		t.Errorf("local row removed: %v", err)
	}
}

func TestGetByExternalID(t *testing.T) {
	db := testDB(t)
	ext := "file_x"
	db.Create(&models.File{Filename: "x", ExternalID: &ext})
	if _, err := GetByExternalID(db, "file_x"); err != nil {
		t.Errorf("GetByExternalID: %v", err)
	}
	if _, err := GetByExternalID(db, "file_y"); !apperr.IsNotFound(err) {
		t.Errorf("err = %v, want NotFound", err)
	}
}
