package db

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/orquestrix/internal/config"
	"github.com/zulandar/orquestrix/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JoinTables lists the many-to-many tables GORM creates from model
// associations. VectorStoreFile is an explicit model and not listed here.
var JoinTables = []string{
	"project_files",
	"project_vector_stores",
	"chat_files",
	"chat_vector_stores",
	"worker_files",
	"worker_vector_stores",
}

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Assistant{},
		&models.VectorStore{},
		&models.File{},
		&models.VectorStoreFile{},
		&models.Project{},
		&models.ChatRole{},
		&models.Chat{},
		&models.Message{},
		&models.Worker{},
		&models.WorkerLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DropAll drops every table created by AutoMigrate, join tables first.
func DropAll(db *gorm.DB) error {
	tables := make([]interface{}, 0, len(JoinTables)+len(AllModels()))
	for _, t := range JoinTables {
		tables = append(tables, t)
	}
	all := AllModels()
	for i := len(all) - 1; i >= 0; i-- {
		tables = append(tables, all[i])
	}
	if err := db.Migrator().DropTable(tables...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return nil
}

// ListTables returns the sorted names of all tables in the current database,
// excluding SQLite internal tables.
func ListTables(db *gorm.DB) ([]string, error) {
	tables, err := db.Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("db: list tables: %w", err)
	}
	out := tables[:0]
	for _, name := range tables {
		if !strings.HasPrefix(name, "sqlite_") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SeedActor upserts the configured actor as a User row and returns it.
func SeedActor(db *gorm.DB, actor config.ActorConfig) (*models.User, error) {
	user := models.User{
		Username: actor.Username,
		Email:    actor.Email,
		Role:     "admin",
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
	}).Create(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("db: seed actor %q: %w", actor.Username, result.Error)
	}

	var stored models.User
	if err := db.Where("username = ?", actor.Username).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("db: reload actor %q: %w", actor.Username, err)
	}
	return &stored, nil
}
