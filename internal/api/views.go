package api

import (
	"time"

	"github.com/zulandar/orquestrix/internal/models"
	"github.com/zulandar/orquestrix/internal/worker"
)

type assistantView struct {
	ID           uint      `json:"id"`
	ExternalID   *string   `json:"external_id"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewAssistant(a models.Assistant) assistantView {
	return assistantView{
		ID: a.ID, ExternalID: a.ExternalID, Name: a.Name, Model: a.Model,
		Description: a.Description, Instructions: a.Instructions, CreatedAt: a.CreatedAt,
	}
}

type vectorStoreView struct {
	ID          uint      `json:"id"`
	ExternalID  *string   `json:"external_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewVectorStore(v models.VectorStore) vectorStoreView {
	return vectorStoreView{ID: v.ID, ExternalID: v.ExternalID, Name: v.Name, Description: v.Description, CreatedAt: v.CreatedAt}
}

func viewVectorStores(list []models.VectorStore) []vectorStoreView {
	out := make([]vectorStoreView, 0, len(list))
	for _, v := range list {
		out = append(out, viewVectorStore(v))
	}
	return out
}

type fileView struct {
	ID             uint      `json:"id"`
	ExternalID     *string   `json:"external_id"`
	Filename       string    `json:"filename"`
	Purpose        string    `json:"purpose"`
	Bytes          int64     `json:"bytes"`
	InVectorStore  bool      `json:"in_vector_store"`
	VectorStoreIDs []string  `json:"vector_store_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

func viewFile(f models.File) fileView {
	ids := []string(f.VectorStoreIDsCache)
	if ids == nil {
		ids = []string{}
	}
	return fileView{
		ID: f.ID, ExternalID: f.ExternalID, Filename: f.Filename, Purpose: f.Purpose, Bytes: f.Bytes,
		InVectorStore: f.InVectorStore, VectorStoreIDs: ids, CreatedAt: f.CreatedAt,
	}
}

func viewFiles(list []models.File) []fileView {
	out := make([]fileView, 0, len(list))
	for _, f := range list {
		out = append(out, viewFile(f))
	}
	return out
}

type projectView struct {
	ID           uint              `json:"id"`
	UserID       uint              `json:"user_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Files        []fileView        `json:"files,omitempty"`
	VectorStores []vectorStoreView `json:"vector_stores,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func viewProject(p models.Project) projectView {
	v := projectView{ID: p.ID, UserID: p.UserID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
	if len(p.Files) > 0 {
		v.Files = viewFiles(p.Files)
	}
	if len(p.VectorStores) > 0 {
		v.VectorStores = viewVectorStores(p.VectorStores)
	}
	return v
}

type chatRoleView struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewChatRole(r models.ChatRole) chatRoleView {
	return chatRoleView{
		ID: r.ID, Name: r.Name, Description: r.Description, Instructions: r.Instructions,
		Model: r.Model, Temperature: r.Temperature, Active: r.IsActive, CreatedAt: r.CreatedAt,
	}
}

type chatView struct {
	ID              uint              `json:"id"`
	UserID          uint              `json:"user_id"`
	ProjectID       *uint             `json:"project_id"`
	ChatRoleID      *uint             `json:"chat_role_id"`
	Title           string            `json:"title"`
	Objective       string            `json:"objective"`
	Model           string            `json:"model"`
	MaxOutputTokens int               `json:"max_output_tokens"`
	Files           []fileView        `json:"files"`
	VectorStores    []vectorStoreView `json:"vector_stores"`
	CreatedAt       time.Time         `json:"created_at"`
}

func viewChat(c models.Chat) chatView {
	return chatView{
		ID: c.ID, UserID: c.UserID, ProjectID: c.ProjectID, ChatRoleID: c.ChatRoleID,
		Title: c.Title, Objective: c.Objective, Model: c.Model, MaxOutputTokens: c.MaxOutputTokens,
		Files: viewFiles(c.Files), VectorStores: viewVectorStores(c.VectorStores), CreatedAt: c.CreatedAt,
	}
}

type messageView struct {
	ID         uint      `json:"id"`
	ChatID     uint      `json:"chat_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ResponseID *string   `json:"response_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewMessage(m models.Message) messageView {
	return messageView{ID: m.ID, ChatID: m.ChatID, Role: m.Role, Content: m.Content, ResponseID: m.ResponseID, CreatedAt: m.CreatedAt}
}

type workerView struct {
	ID           uint              `json:"id"`
	UserID       uint              `json:"user_id"`
	ProjectID    uint              `json:"project_id"`
	AssistantID  *uint             `json:"assistant_id"`
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	ThreadID     *string           `json:"thread_id"`
	Files        []fileView        `json:"files"`
	VectorStores []vectorStoreView `json:"vector_stores"`
	CreatedAt    time.Time         `json:"created_at"`
}

func viewWorker(w models.Worker) workerView {
	return workerView{
		ID: w.ID, UserID: w.UserID, ProjectID: w.ProjectID, AssistantID: w.AssistantID,
		Name: w.Name, Model: w.Model, ThreadID: w.ThreadID,
		Files: viewFiles(w.Files), VectorStores: viewVectorStores(w.VectorStores), CreatedAt: w.CreatedAt,
	}
}

type workerLogView struct {
	ID            uint       `json:"id"`
	WorkerID      uint       `json:"worker_id"`
	Input         string     `json:"input"`
	Output        string     `json:"output"`
	RunID         *string    `json:"run_id"`
	RunStatus     string     `json:"run_status"`
	OutputFileIDs []string   `json:"output_file_ids"`
	OutputFiles   []fileView `json:"output_files,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func viewWorkerLog(l models.WorkerLog, files []models.File) workerLogView {
	ids := []string(l.OutputFileIDs)
	if ids == nil {
		ids = []string{}
	}
	v := workerLogView{
		ID: l.ID, WorkerID: l.WorkerID, Input: l.Input, Output: l.Output,
		RunID: l.RunID, RunStatus: l.RunStatus, OutputFileIDs: ids, CreatedAt: l.CreatedAt,
	}
	if len(files) > 0 {
		v.OutputFiles = viewFiles(files)
	}
	return v
}

func viewLogEntries(list []worker.LogEntry) []workerLogView {
	out := make([]workerLogView, 0, len(list))
	for _, e := range list {
		out = append(out, viewWorkerLog(e.WorkerLog, e.Files))
	}
	return out
}
