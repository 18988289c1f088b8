package chatrole

import (
	"errors"
	"testing"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/models"
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
		&models.VectorStore{}, &models.File{}, &models.ChatRole{}, &models.Chat{}, &models.Message{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool     { return &v }
func str(v string) *string   { return &v }

func TestCreate_Defaults(t *testing.T) {
	db := testDB(t)
	role, err := Create(db, "gpt-4.5", CreateOpts{Name: " Reviewer ", Instructions: "Review code."})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if role.Name != "Reviewer" {
		t.Errorf("Name = %q, want trimmed", role.Name)
	}
	if role.Model != "gpt-4.5" {
		t.Errorf("Model = %q, want default gpt-4.5", role.Model)
	}
	if role.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", role.Temperature)
	}
	if !role.IsActive {
		t.Error("IsActive = false, want true")
	}
}

func TestCreate_ExplicitZeroValuesPersist(t *testing.T) {
	db := testDB(t)
	role, err := Create(db, "gpt-4.5", CreateOpts{
		Name: "Cold", Instructions: "x", Temperature: f64(0), Active: boolp(false),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _ := Get(db, role.ID)
	if got.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", got.Temperature)
	}
	if got.IsActive {
		t.Error("IsActive = true, want false")
	}
}

func TestCreate_ClampsTemperature(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{1.7, 1},
		{0.3, 0.3},
	}
	db := testDB(t)
	for i, tt := range tests {
		role, err := Create(db, "gpt-4.5", CreateOpts{
			Name: string(rune('a' + i)), Instructions: "x", Temperature: f64(tt.in),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if role.Temperature != tt.want {
			t.Errorf("Temperature(%v) = %v, want %v", tt.in, role.Temperature, tt.want)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	db := testDB(t)
	if _, err := Create(db, "gpt-4.5", CreateOpts{Name: "Taken", Instructions: "x"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tests := []struct {
		name  string
		opts  CreateOpts
		field string
	}{
		{"missing name", CreateOpts{Instructions: "x"}, "name"},
		{"missing instructions", CreateOpts{Name: "n"}, "instructions"},
		{"disallowed model", CreateOpts{Name: "n", Instructions: "x", Model: "gpt-4.1"}, "model"},
		{"duplicate name", CreateOpts{Name: "Taken", Instructions: "x"}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(db, "gpt-4.5", tt.opts)
			var verr *apperr.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("err = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	db := testDB(t)
	role, err := Create(db, "gpt-4.5", CreateOpts{Name: "R", Instructions: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := Update(db, role.ID, UpdateOpts{
		Model:       str("o3-mini"),
		Temperature: f64(3),
		Active:      boolp(false),
		Description: str("strict"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Model != "o3-mini" || got.Temperature != 1 || got.IsActive || got.Description != "strict" {
		t.Errorf("role = %+v", got)
	}

	if _, err := Update(db, role.ID, UpdateOpts{Model: str("gpt-4")}); !apperr.IsValidation(err) {
		t.Errorf("disallowed model err = %v", err)
	}
	if _, err := Update(db, role.ID, UpdateOpts{Name: str("R")}); err != nil {
		t.Errorf("keeping own name: %v", err)
	}
}

func TestDelete_UnassignsChats(t *testing.T) {
	db := testDB(t)
	role, err := Create(db, "gpt-4.5", CreateOpts{Name: "R", Instructions: "x", Model: "o3-mini"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	chat := models.Chat{Title: "c", Model: "o3-mini", ChatRoleID: &role.ID}
	db.Create(&chat)

	if err := Delete(db, role.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var reloaded models.Chat
	db.First(&reloaded, chat.ID)
	if reloaded.ChatRoleID != nil {
		t.Error("chat still references deleted role")
	}
	if reloaded.Model != "o3-mini" {
		t.Errorf("Model = %q, want kept", reloaded.Model)
	}
	if err := Delete(db, role.ID); !apperr.IsNotFound(err) {
		t.Errorf("second Delete = %v, want NotFound", err)
	}
}

func TestList_ActiveOnly(t *testing.T) {
	db := testDB(t)
	Create(db, "gpt-4.5", CreateOpts{Name: "a", Instructions: "x"})
	Create(db, "gpt-4.5", CreateOpts{Name: "b", Instructions: "x", Active: boolp(false)})

	all, _ := List(db, false)
	active, _ := List(db, true)
	if len(all) != 2 || len(active) != 1 {
		t.Errorf("all=%d active=%d, want 2 and 1", len(all), len(active))
	}
}
