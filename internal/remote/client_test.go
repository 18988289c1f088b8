package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]interface{}
	header http.Header
}

// testServer answers every request with the handler's JSON and records it.
func testServer(t *testing.T, handler func(r *http.Request) (int, string)) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone()}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &rec.body)
			}
		}
		reqs = append(reqs, rec)
		status, body := handler(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &reqs
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Options{}); err == nil || !strings.Contains(err.Error(), "api key is required") {
		t.Fatalf("err = %v, want api key error", err)
	}
}

func TestClient_Headers(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"data":[{"id":"gpt-4.1","owned_by":"system"}]}`
	})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gpt-4.1" {
		t.Errorf("models = %+v", models)
	}
	got := (*reqs)[0]
	if got.header.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.header.Get("Authorization"))
	}
	if got.header.Get("OpenAI-Beta") != "assistants=v2" {
		t.Errorf("OpenAI-Beta = %q", got.header.Get("OpenAI-Beta"))
	}
	if got.path != "/v1/models" {
		t.Errorf("path = %q (base URL /v1 suffix should be trimmed)", got.path)
	}
}

func TestClient_CreateAssistant(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"id":"asst_1","name":"Helper","model":"gpt-4.1","description":"d","instructions":"be nice"}`
	})
	a, err := c.CreateAssistant(context.Background(), AssistantParams{Name: "Helper", Model: "gpt-4.1", Description: "d", Instructions: "be nice"})
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	if a.ID != "asst_1" || a.Instructions != "be nice" {
		t.Errorf("assistant = %+v", a)
	}
	body := (*reqs)[0].body
	tools, _ := body["tools"].([]interface{})
	if len(tools) != 2 {
		t.Fatalf("tools = %v, want code_interpreter and file_search", body["tools"])
	}
	if body["response_format"] != "text" {
		t.Errorf("response_format = %v", body["response_format"])
	}
}

func TestClient_ListVectorStoreFiles_BothIDShapes(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"data":[{"id":"file_a"},{"file_id":"file_b","id":"vsf_1"},{}]}`
	})
	ids, err := c.ListVectorStoreFiles(context.Background(), "vs_1", 100)
	if err != nil {
		t.Fatalf("ListVectorStoreFiles: %v", err)
	}
	if strings.Join(ids, ",") != "file_a,file_b" {
		t.Errorf("ids = %v", ids)
	}
	if (*reqs)[0].query != "limit=100" {
		t.Errorf("query = %q", (*reqs)[0].query)
	}
}

func TestClient_AddVectorStoreFile_StaticChunking(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"id":"file_a","object":"vector_store.file"}`
	})
	if err := c.AddVectorStoreFile(context.Background(), "vs_1", "file_a"); err != nil {
		t.Fatalf("AddVectorStoreFile: %v", err)
	}
	body := (*reqs)[0].body
	cs, _ := body["chunking_strategy"].(map[string]interface{})
	static, _ := cs["static"].(map[string]interface{})
	if cs["type"] != "static" || static["max_chunk_size_tokens"] != float64(800) || static["chunk_overlap_tokens"] != float64(400) {
		t.Errorf("chunking_strategy = %v", body["chunking_strategy"])
	}
}

func TestClient_DeleteReportsFlag(t *testing.T) {
	c, _ := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"id":"vs_1","deleted":false}`
	})
	ok, err := c.DeleteVectorStore(context.Background(), "vs_1")
	if err != nil {
		t.Fatalf("DeleteVectorStore: %v", err)
	}
	if ok {
		t.Error("deleted = true, want false")
	}
}

func TestClient_HTTPError(t *testing.T) {
	c, _ := testServer(t, func(r *http.Request) (int, string) {
		return 502, `{"error":{"message":"bad gateway"}}`
	})
	_, err := c.ListAssistants(context.Background(), 100)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != 502 || !strings.Contains(httpErr.Body, "bad gateway") {
		t.Errorf("httpErr = %+v", httpErr)
	}
}

func TestClient_CreateResponse_ToolsOnlyWithStores(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"id":"resp_1","status":"in_progress","error":null}`
	})
	req := ResponseRequest{Model: "gpt-4.5", Instructions: "be brief", Input: []InputMessage{{Role: "user", Content: "hi"}}, MaxOutputTokens: 1024}

	resp, err := c.CreateResponse(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if resp.ID != "resp_1" || resp.Status != "in_progress" {
		t.Errorf("resp = %+v", resp)
	}
	first := (*reqs)[0].body
	if _, ok := first["tools"]; ok {
		t.Error("tools sent without vector stores")
	}
	if first["max_output_tokens"] != float64(1024) || first["instructions"] != "be brief" {
		t.Errorf("body = %v", first)
	}

	req.VectorStoreIDs = []string{"vs_1"}
	if _, err := c.CreateResponse(context.Background(), req); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	second := (*reqs)[1].body
	tools, _ := second["tools"].([]interface{})
	if len(tools) != 1 {
		t.Fatalf("tools = %v", second["tools"])
	}
	tool := tools[0].(map[string]interface{})
	if tool["type"] != "file_search" {
		t.Errorf("tool type = %v", tool["type"])
	}
	if second["parallel_tool_calls"] != true || second["tool_choice"] != "auto" {
		t.Errorf("body = %v", second)
	}
}

func TestClient_CreateThread_ToolResources(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"id":"thread_1"}`
	})
	th, err := c.CreateThread(context.Background(), &ToolResources{FileIDs: []string{"f1"}, VectorStoreIDs: []string{"vs_1"}})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.ID != "thread_1" {
		t.Errorf("thread = %+v", th)
	}
	tr, _ := (*reqs)[0].body["tool_resources"].(map[string]interface{})
	ci, _ := tr["code_interpreter"].(map[string]interface{})
	fs, _ := tr["file_search"].(map[string]interface{})
	if ci == nil || fs == nil {
		t.Fatalf("tool_resources = %v", tr)
	}
}

func TestClient_ListThreadMessages_Query(t *testing.T) {
	c, reqs := testServer(t, func(r *http.Request) (int, string) {
		return 200, `{"data":[{"id":"msg_2","role":"assistant","run_id":"run_1","content":[]}]}`
	})
	msgs, err := c.ListThreadMessages(context.Background(), "thread_1", "desc", 50)
	if err != nil {
		t.Fatalf("ListThreadMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "assistant" || msgs[0].RunID != "run_1" {
		t.Errorf("msgs = %+v", msgs)
	}
	if q := (*reqs)[0].query; !strings.Contains(q, "order=desc") || !strings.Contains(q, "limit=50") {
		t.Errorf("query = %q", q)
	}
}

func TestClient_UploadFile_Multipart(t *testing.T) {
	var purpose, filename, content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		purpose = r.FormValue("purpose")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			filename = hdr.Filename
			data, _ := io.ReadAll(f)
			content = string(data)
		}
		_, _ = io.WriteString(w, `{"id":"file_9","filename":"notes.txt","purpose":"assistants","bytes":5}`)
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	f, err := c.UploadFile(context.Background(), "notes.txt", []byte("hello"), PurposeAssistants)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if f.ID != "file_9" || f.Bytes != 5 {
		t.Errorf("file = %+v", f)
	}
	if purpose != "assistants" || filename != "notes.txt" || content != "hello" {
		t.Errorf("form = purpose %q filename %q content %q", purpose, filename, content)
	}
}

func TestClient_RetrieveFileContent_Shapes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"raw bytes", "application/octet-stream", "plain text", "plain text"},
		{"json envelope", "application/json", `{"data":"` + base64.StdEncoding.EncodeToString([]byte("decoded")) + `"}`, "decoded"},
		{"json without envelope", "application/json", `{"rows":[1,2]}`, `{"rows":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			c, _ := New(Options{APIKey: "k", BaseURL: srv.URL})
			data, err := c.RetrieveFileContent(context.Background(), "file_1")
			if err != nil {
				t.Fatalf("RetrieveFileContent: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}
}
