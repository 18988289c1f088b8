package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/orquestrix/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector returns the GORM dialector for the configured driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("db: sqlite path is required")
		}
		return sqlite.Open(cfg.Path), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection for the configured driver. For a file-backed
// SQLite database the parent directory is created first.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	if isSQLite(cfg) && !isMemory(cfg.Path) {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db: create %s: %w", dir, err)
			}
		}
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", Location(cfg), err)
	}

	if isSQLite(cfg) {
		// SQLite allows one writer; an in-memory database also exists only
		// on the connection that created it.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Location describes where the configured database lives, with any
// password in a DSN masked.
func Location(cfg config.DatabaseConfig) string {
	if isSQLite(cfg) {
		if isMemory(cfg.Path) {
			return "sqlite (in-memory)"
		}
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			abs = cfg.Path
		}
		return "sqlite:///" + strings.TrimPrefix(filepath.ToSlash(abs), "/")
	}
	return cfg.Driver + ": " + maskDSN(cfg.DSN)
}

func isSQLite(cfg config.DatabaseConfig) bool {
	return cfg.Driver == "sqlite" || cfg.Driver == ""
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// maskDSN hides the password portion of user:password@host style DSNs.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	userinfo := dsn[:at]
	scheme := ""
	if i := strings.Index(userinfo, "://"); i >= 0 {
		scheme, userinfo = userinfo[:i+3], userinfo[i+3:]
	}
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return dsn
	}
	return scheme + userinfo[:colon] + ":****" + dsn[at:]
}
