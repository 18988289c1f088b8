// Package remote is the gateway to the generative-AI provider. It exposes
// the provider's assistants, vector stores, files, responses and
// thread/run operations as plain records; raw payloads that callers need to
// inspect further are carried as Node trees.
package remote

import (
	"context"
	"strings"
)

// Purposes used when listing and uploading files.
const (
	PurposeAssistants       = "assistants"
	PurposeAssistantsOutput = "assistants_output"
)

// Chunking policy applied when a file is added to a vector store.
const (
	ChunkMaxTokens     = 800
	ChunkOverlapTokens = 400
)

// Gateway is the set of remote operations the rest of Orquestrix consumes.
// Implementations make exactly one attempt per call.
type Gateway interface {
	CreateAssistant(ctx context.Context, p AssistantParams) (*Assistant, error)
	ListAssistants(ctx context.Context, limit int) ([]Assistant, error)
	DeleteAssistant(ctx context.Context, id string) (bool, error)

	CreateVectorStore(ctx context.Context, name string) (*VectorStore, error)
	ListVectorStores(ctx context.Context, limit int) ([]VectorStore, error)
	DeleteVectorStore(ctx context.Context, id string) (bool, error)
	ListVectorStoreFiles(ctx context.Context, storeID string, limit int) ([]string, error)
	AddVectorStoreFile(ctx context.Context, storeID, fileID string) error
	RemoveVectorStoreFile(ctx context.Context, storeID, fileID string) (bool, error)

	UploadFile(ctx context.Context, filename string, content []byte, purpose string) (*File, error)
	ListFiles(ctx context.Context, purpose string) ([]File, error)
	DeleteFile(ctx context.Context, id string) (bool, error)
	RetrieveFile(ctx context.Context, id string) (*File, error)
	RetrieveFileContent(ctx context.Context, id string) ([]byte, error)

	CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error)
	RetrieveResponse(ctx context.Context, id string) (*Response, error)

	CreateThread(ctx context.Context, resources *ToolResources) (*Thread, error)
	CreateThreadMessage(ctx context.Context, threadID, role, content string) error
	CreateRun(ctx context.Context, threadID, assistantID, model string) (*Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string, limit int) ([]RunStep, error)
	ListThreadMessages(ctx context.Context, threadID, order string, limit int) ([]ThreadMessage, error)

	ListModels(ctx context.Context) ([]Model, error)
}

// AssistantParams are the fields sent when creating an assistant.
type AssistantParams struct {
	Name         string
	Model        string
	Description  string
	Instructions string
}

// Assistant is a normalized remote assistant.
type Assistant struct {
	ID           string
	Name         string
	Description  string
	Model        string
	Instructions string
}

// VectorStore is a normalized remote vector store.
type VectorStore struct {
	ID   string
	Name string
}

// File is normalized remote file metadata.
type File struct {
	ID       string
	Filename string
	Purpose  string
	Bytes    int64
}

// Model is one entry of the remote model list.
type Model struct {
	ID      string
	OwnedBy string
}

// InputMessage is one turn of conversation history sent to the respond call.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseRequest describes a single stateless respond call. A retrieval
// tool is enabled only when VectorStoreIDs is non-empty.
type ResponseRequest struct {
	Model           string
	Instructions    string
	Input           []InputMessage
	MaxOutputTokens int
	VectorStoreIDs  []string
}

// Response is a respond job. Status may be empty for providers that answer
// synchronously without one.
type Response struct {
	ID     string
	Status string
	Body   Node
}

// ToolResources are bound to a thread when it is created.
type ToolResources struct {
	FileIDs        []string
	VectorStoreIDs []string
}

// Thread is a persistent remote conversation.
type Thread struct {
	ID string
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID     string
	Status string
	Body   Node
}

// RunStep is one execution step of a run.
type RunStep struct {
	ID     string
	Status string
	Body   Node
}

// ThreadMessage is a message on a thread. Body holds the full payload for
// content and attachment inspection.
type ThreadMessage struct {
	ID    string
	Role  string
	RunID string
	Body  Node
}

var terminalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"cancelled": true,
}

// IsTerminal reports whether status is completed, failed or cancelled.
func IsTerminal(status string) bool {
	return terminalStatuses[strings.ToLower(status)]
}

func assistantFromNode(n Node) Assistant {
	return Assistant{
		ID:           n.Get("id").Text(),
		Name:         n.Get("name").Text(),
		Description:  n.Get("description").Text(),
		Model:        n.Get("model").Text(),
		Instructions: n.Get("instructions").Text(),
	}
}

func vectorStoreFromNode(n Node) VectorStore {
	return VectorStore{
		ID:   n.Get("id").Text(),
		Name: n.Get("name").Text(),
	}
}

func fileFromNode(n Node) File {
	return File{
		ID:       n.Get("id").Text(),
		Filename: n.Get("filename").Text(),
		Purpose:  n.Get("purpose").Text(),
		Bytes:    n.Get("bytes").Int(),
	}
}

// memberFileID returns the file id of a vector store file entry, which
// older payloads expose as "file_id" and newer ones as "id".
func memberFileID(n Node) string {
	if id := n.Get("file_id").Text(); id != "" {
		return id
	}
	return n.Get("id").Text()
}

func responseFromNode(n Node) *Response {
	return &Response{ID: n.Get("id").Text(), Status: n.Get("status").Text(), Body: n}
}

func runFromNode(n Node) *Run {
	return &Run{ID: n.Get("id").Text(), Status: n.Get("status").Text(), Body: n}
}

func runStepFromNode(n Node) RunStep {
	return RunStep{ID: n.Get("id").Text(), Status: n.Get("status").Text(), Body: n}
}

func threadMessageFromNode(n Node) ThreadMessage {
	return ThreadMessage{
		ID:    n.Get("id").Text(),
		Role:  n.Get("role").Text(),
		RunID: n.Get("run_id").Text(),
		Body:  n,
	}
}

// listData returns the "data" sequence of a list payload, or the payload
// itself when the provider returned a bare array.
func listData(n Node) []Node {
	if n.Kind() == Sequence {
		return n.Items()
	}
	return n.Get("data").Items()
}
