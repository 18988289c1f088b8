package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/extract"
	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/project"
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

func strPtr(s string) *string { return &s }

type fixture struct {
	db        *gorm.DB
	gw        *remote.MockGateway
	svc       *Service
	project   *models.Project
	assistant models.Assistant
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	gw := remote.NewMockGateway()
	p, err := project.Create(db, project.CreateOpts{UserID: 1, Name: "P"})
	if err != nil {
		t.Fatalf("project.Create: %v", err)
	}
	a := models.Assistant{ExternalID: strPtr("asst_1"), Name: "Coder", Model: "gpt-4.1"}
	db.Create(&a)
	svc := NewService(gw, Options{
		PollInterval:     time.Millisecond,
		PollTimeout:      30 * time.Millisecond,
		StepsPollTimeout: 10 * time.Millisecond,
		DefaultModel:     "gpt-4.1-mini",
	})
	return &fixture{db: db, gw: gw, svc: svc, project: p, assistant: a}
}

func (f *fixture) worker(t *testing.T) *models.Worker {
	t.Helper()
	w, err := f.svc.Create(f.db, CreateOpts{UserID: 1, ProjectID: f.project.ID, AssistantID: &f.assistant.ID, Name: "W"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return w
}

func (f *fixture) file(t *testing.T, ext string) models.File {
	t.Helper()
	file := models.File{ExternalID: strPtr(ext), Filename: ext + ".txt"}
	if err := f.db.Create(&file).Error; err != nil {
		t.Fatalf("create file: %v", err)
	}
	return file
}

func assistantMessage(runID, text string, attachments ...string) remote.ThreadMessage {
	atts := make([]interface{}, 0, len(attachments))
	for _, id := range attachments {
		atts = append(atts, map[string]interface{}{"file_id": id})
	}
	return remote.ThreadMessage{
		Role:  "assistant",
		RunID: runID,
		Body: remote.FromValue(map[string]interface{}{
			"role": "assistant",
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": map[string]interface{}{"value": text}},
			},
			"attachments": atts,
		}),
	}
}

func codeStep(status, fileID string) remote.RunStep {
	return remote.RunStep{Status: status, Body: remote.FromValue(map[string]interface{}{
		"status": status,
		"step_details": map[string]interface{}{
			"tool_calls": []interface{}{
				map[string]interface{}{
					"code_interpreter": map[string]interface{}{
						"outputs": []interface{}{
							map[string]interface{}{"type": "image", "image": map[string]interface{}{"file_id": fileID}},
						},
					},
				},
			},
		},
	})}
}

func TestCreate_ModelDefaults(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name      string
		model     string
		assistant *uint
		want      string
	}{
		{"explicit", "o4-mini", &f.assistant.ID, "o4-mini"},
		{"assistant model", "", &f.assistant.ID, "gpt-4.1"},
		{"configured default", "", nil, "gpt-4.1-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := f.svc.Create(f.db, CreateOpts{ProjectID: f.project.ID, AssistantID: tt.assistant, Name: tt.name, Model: tt.model})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if w.Model != tt.want {
				t.Errorf("Model = %q, want %q", w.Model, tt.want)
			}
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	missing := uint(99)
	tests := []struct {
		name string
		opts CreateOpts
		want func(error) bool
	}{
		{"no name", CreateOpts{ProjectID: f.project.ID, Name: " "}, apperr.IsValidation},
		{"unknown project", CreateOpts{ProjectID: 99, Name: "x"}, apperr.IsNotFound},
		{"unknown assistant", CreateOpts{ProjectID: f.project.ID, AssistantID: &missing, Name: "x"}, apperr.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Create(f.db, tt.opts); !tt.want(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestRunOnce_FullRun(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	wf := f.file(t, "file_w")
	pf := f.file(t, "file_p")
	if _, err := SetFiles(f.db, w.ID, []uint{wf.ID}); err != nil {
		t.Fatalf("SetFiles: %v", err)
	}
	if err := project.SetFiles(f.db, f.project.ID, []uint{pf.ID, wf.ID}); err != nil {
		t.Fatalf("project.SetFiles: %v", err)
	}
	local := models.VectorStore{Name: "local only"}
	vsA := models.VectorStore{ExternalID: strPtr("vs_a"), Name: "A"}
	vsB := models.VectorStore{ExternalID: strPtr("vs_b"), Name: "B"}
	for _, vs := range []*models.VectorStore{&local, &vsA, &vsB} {
		f.db.Create(vs)
	}
	if _, err := SetVectorStores(f.db, w.ID, []uint{vsB.ID, vsA.ID, local.ID}); err != nil {
		t.Fatalf("SetVectorStores: %v", err)
	}

	f.gw.SetFiles(remote.File{ID: "file_att", Filename: "report.csv", Purpose: remote.PurposeAssistantsOutput, Bytes: 10})
	f.gw.QueueRun(remote.RunScript{
		Polls:    []remote.Run{{Status: "in_progress"}, {Status: "completed"}},
		Steps:    [][]remote.RunStep{{codeStep("in_progress", "file_out1")}, {codeStep("completed", "file_out1")}},
		Messages: []remote.ThreadMessage{assistantMessage("", "Done.", "file_att")},
	})

	entry, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "Build the report")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if entry.RunStatus != "completed" || entry.RunID == nil {
		t.Errorf("status = %q, run = %v", entry.RunStatus, entry.RunID)
	}
	if entry.Input != "Build the report" {
		t.Errorf("Input = %q", entry.Input)
	}
	wantFooter := "VectorStore: vs_a\nInput Files: file_w, file_p\nOutput Files: file_att, file_out1"
	if !strings.HasPrefix(entry.Output, "Done.\n\n---\n") || !strings.HasSuffix(entry.Output, wantFooter) {
		t.Errorf("Output = %q", entry.Output)
	}
	if got := []string(entry.OutputFileIDs); len(got) != 2 || got[0] != "file_att" || got[1] != "file_out1" {
		t.Errorf("OutputFileIDs = %v", got)
	}

	got, _ := Get(f.db, w.ID)
	if got.ThreadID == nil {
		t.Fatal("thread id not stored")
	}
	res, ok := f.gw.ThreadResources(*got.ThreadID)
	if !ok || res == nil {
		t.Fatal("thread created without resources")
	}
	if len(res.FileIDs) != 2 || res.FileIDs[0] != "file_w" || res.FileIDs[1] != "file_p" {
		t.Errorf("thread files = %v", res.FileIDs)
	}
	if len(res.VectorStoreIDs) != 1 || res.VectorStoreIDs[0] != "vs_a" {
		t.Errorf("thread stores = %v", res.VectorStoreIDs)
	}

	reqs := f.gw.RunRequests()
	if len(reqs) != 1 || reqs[0].AssistantID != "asst_1" || reqs[0].Model != "gpt-4.1" {
		t.Errorf("run requests = %+v", reqs)
	}

	// file_att has remote metadata; file_out1 does not and is skipped.
	var mirrored models.File
	if err := f.db.Where("external_id = ?", "file_att").First(&mirrored).Error; err != nil {
		t.Fatalf("output file not mirrored: %v", err)
	}
	if mirrored.Filename != "report.csv" || mirrored.Purpose != "assistants" || mirrored.Bytes != 10 {
		t.Errorf("mirrored = %+v", mirrored)
	}
	var n int64
	f.db.Model(&models.File{}).Where("external_id = ?", "file_out1").Count(&n)
	if n != 0 {
		t.Errorf("file_out1 rows = %d, want 0", n)
	}
}

func TestRunOnce_ReusesThread(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	for i := 0; i < 2; i++ {
		if _, err := f.svc.RunOnce(context.Background(), f.db, w.ID, fmt.Sprintf("prompt %d", i)); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}
	if n := f.gw.CallCount("CreateThread"); n != 1 {
		t.Errorf("CreateThread calls = %d, want 1", n)
	}
	if n := f.gw.CallCount("CreateRun"); n != 2 {
		t.Errorf("CreateRun calls = %d, want 2", n)
	}

	if err := ResetThread(f.db, w.ID); err != nil {
		t.Fatalf("ResetThread: %v", err)
	}
	if _, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "again"); err != nil {
		t.Fatalf("RunOnce after reset: %v", err)
	}
	if n := f.gw.CallCount("CreateThread"); n != 2 {
		t.Errorf("CreateThread calls after reset = %d, want 2", n)
	}
}

func TestRunOnce_TimeoutStillLogs(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	f.gw.QueueRun(remote.RunScript{Polls: []remote.Run{{Status: "in_progress"}}})

	entry, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "slow task")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if entry.RunStatus != "in_progress" {
		t.Errorf("RunStatus = %q, want in_progress", entry.RunStatus)
	}
	if !strings.HasPrefix(entry.Output, extract.NoAnswer) {
		t.Errorf("Output = %q, want placeholder", entry.Output)
	}
	if entry.ID == 0 {
		t.Error("log not persisted")
	}
	// Step files are scanned whatever the final status.
	for _, c := range f.gw.Calls() {
		if c == "ListRunSteps" {
			return
		}
	}
	t.Error("run steps were not scanned for files")
}

func TestRunOnce_DiffFallback(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	in := f.file(t, "file_in")
	if _, err := SetFiles(f.db, w.ID, []uint{in.ID}); err != nil {
		t.Fatalf("SetFiles: %v", err)
	}
	f.gw.SetFiles(remote.File{ID: "file_old", Filename: "old.png", Purpose: remote.PurposeAssistantsOutput})
	f.gw.QueueRun(remote.RunScript{
		Messages: []remote.ThreadMessage{assistantMessage("", "Chart ready.")},
		OutputFiles: []remote.File{
			{ID: "file_gen", Filename: "chart.png", Bytes: 42},
			{ID: "file_in", Filename: "echo.txt"},
		},
	})

	entry, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "plot it")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := []string(entry.OutputFileIDs); len(got) != 1 || got[0] != "file_gen" {
		t.Fatalf("OutputFileIDs = %v, want [file_gen]", got)
	}
	var mirrored models.File
	if err := f.db.Where("external_id = ?", "file_gen").First(&mirrored).Error; err != nil {
		t.Fatalf("file_gen not mirrored: %v", err)
	}
	if mirrored.Filename != "chart.png" || mirrored.Bytes != 42 {
		t.Errorf("mirrored = %+v", mirrored)
	}
}

func TestRunOnce_DiffSkippedWhenSnapshotFails(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	f.gw.FailOn("ListFiles", errors.New("unavailable"))
	f.gw.QueueRun(remote.RunScript{OutputFiles: []remote.File{{ID: "file_gen"}}})

	entry, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "go")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(entry.OutputFileIDs) != 0 {
		t.Errorf("OutputFileIDs = %v, want none", entry.OutputFileIDs)
	}
	if n := f.gw.CallCount("ListFiles"); n != 1 {
		t.Errorf("ListFiles calls = %d, want only the snapshot", n)
	}
}

func TestRunOnce_SkipsOtherRunMessages(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	f.gw.QueueRun(remote.RunScript{
		Messages: []remote.ThreadMessage{assistantMessage("run_stale", "old answer", "file_stale")},
	})

	entry, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "go")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !strings.HasPrefix(entry.Output, extract.NoAnswer) {
		t.Errorf("Output = %q", entry.Output)
	}
	if len(entry.OutputFileIDs) != 0 {
		t.Errorf("OutputFileIDs = %v", entry.OutputFileIDs)
	}
}

func TestRunOnce_CapsThreadFiles(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	var ids []uint
	for i := 0; i < MaxThreadFiles+5; i++ {
		ids = append(ids, f.file(t, fmt.Sprintf("file_%02d", i)).ID)
	}
	if _, err := SetFiles(f.db, w.ID, ids); err != nil {
		t.Fatalf("SetFiles: %v", err)
	}
	if _, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "go"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got, _ := Get(f.db, w.ID)
	res, _ := f.gw.ThreadResources(*got.ThreadID)
	if res == nil || len(res.FileIDs) != MaxThreadFiles {
		t.Fatalf("thread resources = %+v", res)
	}
	if len(res.VectorStoreIDs) != 0 {
		t.Errorf("VectorStoreIDs = %v, want none", res.VectorStoreIDs)
	}
}

func TestRunOnce_Validation(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	bare, _ := f.svc.Create(f.db, CreateOpts{ProjectID: f.project.ID, Name: "no assistant"})
	local := models.Assistant{Name: "local", Model: "gpt-4.1"}
	f.db.Create(&local)
	unsynced, _ := f.svc.Create(f.db, CreateOpts{ProjectID: f.project.ID, AssistantID: &local.ID, Name: "unsynced"})

	tests := []struct {
		name   string
		id     uint
		prompt string
		want   func(error) bool
	}{
		{"empty prompt", w.ID, "  ", apperr.IsValidation},
		{"unknown worker", 999, "hi", apperr.IsNotFound},
		{"no assistant", bare.ID, "hi", apperr.IsValidation},
		{"assistant without remote id", unsynced.ID, "hi", apperr.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.RunOnce(context.Background(), f.db, tt.id, tt.prompt); !tt.want(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
	if calls := f.gw.Calls(); len(calls) != 0 {
		t.Errorf("remote calls = %v, want none", calls)
	}
}

func TestRunOnce_RemoteFailures(t *testing.T) {
	f := setup(t)
	w := f.worker(t)

	f.gw.FailOn("CreateThread", errors.New("down"))
	if _, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "go"); !apperr.IsSync(err) {
		t.Fatalf("thread err = %v, want SyncError", err)
	}
	f.gw.ClearFailures()

	f.gw.FailOn("CreateRun", errors.New("down"))
	if _, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "go"); !apperr.IsSync(err) {
		t.Fatalf("run err = %v, want SyncError", err)
	}
	got, _ := Get(f.db, w.ID)
	if got.ThreadID == nil {
		t.Error("thread id should be kept after a failed run start")
	}
	var n int64
	f.db.Model(&models.WorkerLog{}).Count(&n)
	if n != 0 {
		t.Errorf("logs = %d, want 0", n)
	}
}

func TestLogs_ResolvesFiles(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	known := f.file(t, "file_known")
	f.db.Create(&models.WorkerLog{WorkerID: w.ID, Input: "first", OutputFileIDs: []string{"file_known", "file_gone"}})
	f.db.Create(&models.WorkerLog{WorkerID: w.ID, Input: "second"})

	logs, err := Logs(f.db, w.ID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Input != "second" {
		t.Fatalf("logs = %+v", logs)
	}
	if len(logs[1].Files) != 1 || logs[1].Files[0].ID != known.ID {
		t.Errorf("files = %+v", logs[1].Files)
	}
	if _, err := Logs(f.db, 999); !apperr.IsNotFound(err) {
		t.Errorf("unknown worker err = %v", err)
	}
}

func TestDelete_Cascades(t *testing.T) {
	f := setup(t)
	w := f.worker(t)
	file := f.file(t, "file_w")
	if _, err := SetFiles(f.db, w.ID, []uint{file.ID}); err != nil {
		t.Fatalf("SetFiles: %v", err)
	}
	if _, err := f.svc.RunOnce(context.Background(), f.db, w.ID, "go"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if err := Delete(f.db, w.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var logs, links, files int64
	f.db.Model(&models.WorkerLog{}).Count(&logs)
	f.db.Table("worker_files").Count(&links)
	f.db.Model(&models.File{}).Count(&files)
	if logs != 0 || links != 0 {
		t.Errorf("logs = %d, links = %d, want 0", logs, links)
	}
	if files != 1 {
		t.Errorf("files = %d, files must survive", files)
	}
	if err := Delete(f.db, w.ID); !apperr.IsNotFound(err) {
		t.Errorf("second delete err = %v", err)
	}
	if err := ResetThread(f.db, w.ID); !apperr.IsNotFound(err) {
		t.Errorf("reset err = %v", err)
	}
}

func TestList_ByProject(t *testing.T) {
	f := setup(t)
	f.worker(t)
	other, _ := project.Create(f.db, project.CreateOpts{Name: "Other"})
	if _, err := f.svc.Create(f.db, CreateOpts{ProjectID: other.ID, Name: "A"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	all, _ := List(f.db, ListOpts{})
	if len(all) != 2 || all[0].Name != "A" {
		t.Errorf("all = %+v", all)
	}
	only, _ := List(f.db, ListOpts{ProjectID: &other.ID})
	if len(only) != 1 {
		t.Errorf("filtered = %d", len(only))
	}
}
