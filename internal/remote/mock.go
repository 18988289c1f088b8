package remote

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is an in-memory Gateway for tests. Remote state is seeded
// through its setters, runs and responses are scripted, and any operation
// can be made to fail with FailOn.
type MockGateway struct {
	mu    sync.Mutex
	seq   int
	calls []string
	errs  map[string]error

	assistants   []Assistant
	vectorStores []VectorStore
	storeFiles   map[string][]string
	files        []File
	contents     map[string][]byte
	models       []Model

	responseScripts  []ResponseScript
	responseRequests []ResponseRequest
	responsePolls    map[string][]Response

	threads        map[string]*ToolResources
	threadMessages map[string][]ThreadMessage
	runScripts     []RunScript
	runs           map[string]*mockRun
	runRequests    []RunRequest
}

// ResponseScript scripts one respond job: Created is returned by
// CreateResponse and Polls by successive RetrieveResponse calls; the last
// poll repeats once exhausted.
type ResponseScript struct {
	Created Response
	Polls   []Response
}

// RunScript scripts one run. Polls are returned by successive RetrieveRun
// calls and Steps by successive ListRunSteps calls, the last entry
// repeating. Messages are appended to the thread and OutputFiles become
// visible as assistants_output files when the run is created.
type RunScript struct {
	Polls       []Run
	Steps       [][]RunStep
	Messages    []ThreadMessage
	OutputFiles []File
}

// RunRequest records the arguments of a CreateRun call.
type RunRequest struct {
	ThreadID    string
	AssistantID string
	Model       string
}

type mockRun struct {
	id     string
	script RunScript
	polls  int
	steps  int
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway returns an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		errs:           make(map[string]error),
		storeFiles:     make(map[string][]string),
		contents:       make(map[string][]byte),
		responsePolls:  make(map[string][]Response),
		threads:        make(map[string]*ToolResources),
		threadMessages: make(map[string][]ThreadMessage),
		runs:           make(map[string]*mockRun),
		models:         []Model{{ID: "gpt-4.1", OwnedBy: "system"}},
	}
}

// FailOn makes op fail with err. op is a method name, optionally suffixed
// with ":<id>" to fail only for one store, file or thread.
func (m *MockGateway) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
}

// ClearFailures removes all injected failures.
func (m *MockGateway) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = make(map[string]error)
}

// Calls returns the operations invoked so far, in order.
func (m *MockGateway) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (m *MockGateway) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

// SetAssistants replaces the remote assistant list.
func (m *MockGateway) SetAssistants(list ...Assistant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants = append([]Assistant(nil), list...)
}

// SetVectorStores replaces the remote vector store list.
func (m *MockGateway) SetVectorStores(list ...VectorStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectorStores = append([]VectorStore(nil), list...)
}

// SetStoreFiles replaces the file membership of a remote store.
func (m *MockGateway) SetStoreFiles(storeID string, fileIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeFiles[storeID] = append([]string(nil), fileIDs...)
}

// StoreFiles returns the file membership of a remote store.
func (m *MockGateway) StoreFiles(storeID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.storeFiles[storeID]...)
}

// SetFiles replaces the remote file list.
func (m *MockGateway) SetFiles(list ...File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append([]File(nil), list...)
}

// SetContent sets the bytes returned by RetrieveFileContent for id.
func (m *MockGateway) SetContent(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[id] = data
}

// QueueResponse appends a scripted respond job.
func (m *MockGateway) QueueResponse(s ResponseScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseScripts = append(m.responseScripts, s)
}

// ResponseRequests returns every request passed to CreateResponse.
func (m *MockGateway) ResponseRequests() []ResponseRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ResponseRequest(nil), m.responseRequests...)
}

// QueueRun appends a scripted run.
func (m *MockGateway) QueueRun(s RunScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runScripts = append(m.runScripts, s)
}

// RunRequests returns every CreateRun call.
func (m *MockGateway) RunRequests() []RunRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRequest(nil), m.runRequests...)
}

// ThreadResources returns the tool resources a thread was created with.
func (m *MockGateway) ThreadResources(threadID string) (*ToolResources, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.threads[threadID]
	return tr, ok
}

// ThreadCount returns how many threads were created.
func (m *MockGateway) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// ThreadMessages returns the messages of a thread in creation order.
func (m *MockGateway) ThreadMessages(threadID string) []ThreadMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ThreadMessage(nil), m.threadMessages[threadID]...)
}

// record logs the call and returns any injected failure. Callers hold mu.
func (m *MockGateway) record(op string, ids ...string) error {
	m.calls = append(m.calls, op)
	for _, id := range ids {
		if err, ok := m.errs[op+":"+id]; ok {
			return err
		}
	}
	return m.errs[op]
}

func (m *MockGateway) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock%d", prefix, m.seq)
}

func (m *MockGateway) CreateAssistant(ctx context.Context, p AssistantParams) (*Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateAssistant"); err != nil {
		return nil, err
	}
	a := Assistant{ID: m.nextID("asst"), Name: p.Name, Model: p.Model, Description: p.Description, Instructions: p.Instructions}
	m.assistants = append(m.assistants, a)
	return &a, nil
}

func (m *MockGateway) ListAssistants(ctx context.Context, limit int) ([]Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListAssistants"); err != nil {
		return nil, err
	}
	return truncate(m.assistants, limit), nil
}

func (m *MockGateway) DeleteAssistant(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteAssistant", id); err != nil {
		return false, err
	}
	for i, a := range m.assistants {
		if a.ID == id {
			m.assistants = append(m.assistants[:i], m.assistants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockGateway) CreateVectorStore(ctx context.Context, name string) (*VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateVectorStore"); err != nil {
		return nil, err
	}
	vs := VectorStore{ID: m.nextID("vs"), Name: name}
	m.vectorStores = append(m.vectorStores, vs)
	return &vs, nil
}

func (m *MockGateway) ListVectorStores(ctx context.Context, limit int) ([]VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListVectorStores"); err != nil {
		return nil, err
	}
	return truncate(m.vectorStores, limit), nil
}

func (m *MockGateway) DeleteVectorStore(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteVectorStore", id); err != nil {
		return false, err
	}
	for i, vs := range m.vectorStores {
		if vs.ID == id {
			m.vectorStores = append(m.vectorStores[:i], m.vectorStores[i+1:]...)
			delete(m.storeFiles, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockGateway) ListVectorStoreFiles(ctx context.Context, storeID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListVectorStoreFiles", storeID); err != nil {
		return nil, err
	}
	return truncate(m.storeFiles[storeID], limit), nil
}

func (m *MockGateway) AddVectorStoreFile(ctx context.Context, storeID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AddVectorStoreFile", storeID, fileID); err != nil {
		return err
	}
	for _, id := range m.storeFiles[storeID] {
		if id == fileID {
			return nil
		}
	}
	m.storeFiles[storeID] = append(m.storeFiles[storeID], fileID)
	return nil
}

func (m *MockGateway) RemoveVectorStoreFile(ctx context.Context, storeID, fileID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RemoveVectorStoreFile", storeID, fileID); err != nil {
		return false, err
	}
	ids := m.storeFiles[storeID]
	for i, id := range ids {
		if id == fileID {
			m.storeFiles[storeID] = append(ids[:i:i], ids[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockGateway) UploadFile(ctx context.Context, filename string, content []byte, purpose string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UploadFile"); err != nil {
		return nil, err
	}
	f := File{ID: m.nextID("file"), Filename: filename, Purpose: purpose, Bytes: int64(len(content))}
	m.files = append(m.files, f)
	m.contents[f.ID] = append([]byte(nil), content...)
	return &f, nil
}

func (m *MockGateway) ListFiles(ctx context.Context, purpose string) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListFiles", purpose); err != nil {
		return nil, err
	}
	var out []File
	for _, f := range m.files {
		if purpose == "" || f.Purpose == purpose {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MockGateway) DeleteFile(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteFile", id); err != nil {
		return false, err
	}
	for i, f := range m.files {
		if f.ID == id {
			m.files = append(m.files[:i], m.files[i+1:]...)
			delete(m.contents, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockGateway) RetrieveFile(ctx context.Context, id string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveFile", id); err != nil {
		return nil, err
	}
	for _, f := range m.files {
		if f.ID == id {
			f := f
			return &f, nil
		}
	}
	return nil, &HTTPError{StatusCode: 404, Body: "no such file: " + id}
}

func (m *MockGateway) RetrieveFileContent(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveFileContent", id); err != nil {
		return nil, err
	}
	data, ok := m.contents[id]
	if !ok {
		return nil, &HTTPError{StatusCode: 404, Body: "no content: " + id}
	}
	return append([]byte(nil), data...), nil
}

func (m *MockGateway) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseRequests = append(m.responseRequests, req)
	if err := m.record("CreateResponse"); err != nil {
		return nil, err
	}
	var s ResponseScript
	if len(m.responseScripts) > 0 {
		s, m.responseScripts = m.responseScripts[0], m.responseScripts[1:]
	} else {
		s.Created = Response{Status: "completed", Body: FromValue(map[string]interface{}{"output_text": "ok"})}
	}
	if s.Created.ID == "" {
		s.Created.ID = m.nextID("resp")
	}
	m.responsePolls[s.Created.ID] = append([]Response{s.Created}, s.Polls...)
	created := s.Created
	return &created, nil
}

func (m *MockGateway) RetrieveResponse(ctx context.Context, id string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveResponse", id); err != nil {
		return nil, err
	}
	polls, ok := m.responsePolls[id]
	if !ok {
		return nil, &HTTPError{StatusCode: 404, Body: "no such response: " + id}
	}
	// The first entry is the created state; advance past it on each poll.
	if len(polls) > 1 {
		polls = polls[1:]
		m.responsePolls[id] = polls
	}
	r := polls[0]
	return &r, nil
}

func (m *MockGateway) CreateThread(ctx context.Context, resources *ToolResources) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateThread"); err != nil {
		return nil, err
	}
	id := m.nextID("thread")
	if resources != nil {
		copied := ToolResources{
			FileIDs:        append([]string(nil), resources.FileIDs...),
			VectorStoreIDs: append([]string(nil), resources.VectorStoreIDs...),
		}
		m.threads[id] = &copied
	} else {
		m.threads[id] = nil
	}
	return &Thread{ID: id}, nil
}

func (m *MockGateway) CreateThreadMessage(ctx context.Context, threadID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateThreadMessage", threadID); err != nil {
		return err
	}
	msg := ThreadMessage{ID: m.nextID("msg"), Role: role}
	msg.Body = FromValue(map[string]interface{}{
		"id":   msg.ID,
		"role": role,
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": map[string]interface{}{"value": content}},
		},
	})
	m.threadMessages[threadID] = append(m.threadMessages[threadID], msg)
	return nil
}

func (m *MockGateway) CreateRun(ctx context.Context, threadID, assistantID, model string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runRequests = append(m.runRequests, RunRequest{ThreadID: threadID, AssistantID: assistantID, Model: model})
	if err := m.record("CreateRun", threadID); err != nil {
		return nil, err
	}
	var s RunScript
	if len(m.runScripts) > 0 {
		s, m.runScripts = m.runScripts[0], m.runScripts[1:]
	}
	id := m.nextID("run")
	m.runs[id] = &mockRun{id: id, script: s}
	m.threadMessages[threadID] = append(m.threadMessages[threadID], s.Messages...)
	for _, f := range s.OutputFiles {
		if f.Purpose == "" {
			f.Purpose = PurposeAssistantsOutput
		}
		m.files = append(m.files, f)
	}
	return &Run{ID: id, Status: "queued"}, nil
}

func (m *MockGateway) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveRun", runID); err != nil {
		return nil, err
	}
	r, ok := m.runs[runID]
	if !ok {
		return nil, &HTTPError{StatusCode: 404, Body: "no such run: " + runID}
	}
	if len(r.script.Polls) == 0 {
		return &Run{ID: runID, Status: "completed"}, nil
	}
	idx := r.polls
	if idx >= len(r.script.Polls) {
		idx = len(r.script.Polls) - 1
	}
	r.polls++
	run := r.script.Polls[idx]
	run.ID = runID
	return &run, nil
}

func (m *MockGateway) ListRunSteps(ctx context.Context, threadID, runID string, limit int) ([]RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListRunSteps", runID); err != nil {
		return nil, err
	}
	r, ok := m.runs[runID]
	if !ok || len(r.script.Steps) == 0 {
		return nil, nil
	}
	idx := r.steps
	if idx >= len(r.script.Steps) {
		idx = len(r.script.Steps) - 1
	}
	r.steps++
	return truncate(r.script.Steps[idx], limit), nil
}

func (m *MockGateway) ListThreadMessages(ctx context.Context, threadID, order string, limit int) ([]ThreadMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListThreadMessages", threadID); err != nil {
		return nil, err
	}
	msgs := append([]ThreadMessage(nil), m.threadMessages[threadID]...)
	if order == "desc" {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return truncate(msgs, limit), nil
}

func (m *MockGateway) ListModels(ctx context.Context) ([]Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListModels"); err != nil {
		return nil, err
	}
	return append([]Model(nil), m.models...), nil
}

func truncate[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return append([]T(nil), list...)
}
