package main

import (
	"strings"
	"testing"

	"github.com/zulandar/orquestrix/internal/db"
	"github.com/zulandar/orquestrix/internal/models"
)

func initTestDB(t *testing.T, configPath string) {
	t.Helper()
	cmd, buf := testCmd("")
	if err := runDBInit(cmd, configPath); err != nil {
		t.Fatalf("db init: %v\n%s", err, buf.String())
	}
}

func TestDBInit(t *testing.T) {
	path := writeTestConfig(t, "")
	cmd, buf := testCmd("")
	if err := runDBInit(cmd, path); err != nil {
		t.Fatalf("db init: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Migrated", `Seeded actor "tester"`, "initialized successfully"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	_, gormDB, err := connectFromConfig(path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var n int64
	gormDB.Model(&models.User{}).Where("username = ?", "tester").Count(&n)
	if n != 1 {
		t.Errorf("users = %d, want 1", n)
	}
}

func TestDBShow(t *testing.T) {
	path := writeTestConfig(t, "")

	cmd, buf := testCmd("")
	if err := runDBShow(cmd, path); err != nil {
		t.Fatalf("db show (empty): %v", err)
	}
	if !strings.Contains(buf.String(), "No tables") {
		t.Errorf("output = %s, want No tables", buf.String())
	}

	initTestDB(t, path)
	cmd, buf = testCmd("")
	if err := runDBShow(cmd, path); err != nil {
		t.Fatalf("db show: %v", err)
	}
	for _, table := range []string{"assistants", "worker_logs", "chat_files"} {
		if !strings.Contains(buf.String(), table) {
			t.Errorf("output missing table %s:\n%s", table, buf.String())
		}
	}
}

func TestDBReset(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		skipConfirm bool
		wantWiped   bool
		wantOutput  string
	}{
		{"confirmed", "yes\n", false, true, "reset and re-initialized"},
		{"skip prompt", "", true, true, "reset and re-initialized"},
		{"declined", "no\n", false, false, "Aborted."},
		{"no input", "", false, false, "Aborted."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestConfig(t, "")
			initTestDB(t, path)
			_, gormDB, err := connectFromConfig(path)
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			gormDB.Create(&models.Project{UserID: 1, Name: "P"})

			cmd, buf := testCmd(tt.input)
			if err := runDBReset(cmd, path, tt.skipConfirm); err != nil {
				t.Fatalf("db reset: %v", err)
			}
			if !strings.Contains(buf.String(), tt.wantOutput) {
				t.Errorf("output missing %q:\n%s", tt.wantOutput, buf.String())
			}

			_, gormDB, _ = connectFromConfig(path)
			var n int64
			gormDB.Model(&models.Project{}).Count(&n)
			if wiped := n == 0; wiped != tt.wantWiped {
				t.Errorf("projects = %d, wantWiped %v", n, tt.wantWiped)
			}
			tables, _ := db.ListTables(gormDB)
			if len(tables) == 0 {
				t.Error("expected schema to exist after reset")
			}
		})
	}
}

func TestConfirmReset(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"  yes  \n", true},
		{"YES\n", false},
		{"y\n", false},
		{"", false},
	}
	for _, tt := range tests {
		cmd, buf := testCmd(tt.input)
		if got := confirmReset(cmd, "sqlite (in-memory)"); got != tt.want {
			t.Errorf("confirmReset(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(buf.String(), "WARNING") {
			t.Errorf("expected warning prompt, got: %s", buf.String())
		}
	}
}

func TestDBInit_MissingConfig(t *testing.T) {
	cmd, _ := testCmd("")
	err := runDBInit(cmd, "/nonexistent/orquestrix.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v, want load config error", err)
	}
}
