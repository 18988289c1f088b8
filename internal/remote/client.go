package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/orquestrix/internal/logger"
)

// Options configures the HTTP client.
type Options struct {
	APIKey     string
	BaseURL    string // without the /v1 suffix
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        *logger.Logger
}

// Client implements Gateway over the provider's REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// HTTPError is a non-2xx answer from the provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote: http %d: %s", e.StatusCode, e.Body)
}

var _ Gateway = (*Client)(nil)

// New returns a Client. The API key is required.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("remote: api key is required (set OPENAI_API_KEY)")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log.With("component", "remote"),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// send performs one request and returns the raw body and headers.
func (c *Client) send(req *http.Request) ([]byte, http.Header, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("remote request failed", "method", req.Method, "path", req.URL.Path, "error", err.Error())
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	c.log.Debug("remote request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start).String(),
	)
	if readErr != nil {
		return nil, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, resp.Header, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, resp.Header, nil
}

// do sends a JSON request and decodes the answer into a Node.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (Node, error) {
	var buf bytes.Buffer
	contentType := ""
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return Node{}, fmt.Errorf("remote: encode %s %s: %w", method, path, err)
		}
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, &buf, contentType)
	if err != nil {
		return Node{}, err
	}
	raw, _, err := c.send(req)
	if err != nil {
		return Node{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Node{}, nil
	}
	return ParseJSON(raw)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// CreateAssistant creates an assistant with the code interpreter and file
// search tools enabled.
func (c *Client) CreateAssistant(ctx context.Context, p AssistantParams) (*Assistant, error) {
	body := map[string]interface{}{
		"name":         p.Name,
		"model":        p.Model,
		"description":  p.Description,
		"instructions": p.Instructions,
		"tools": []map[string]string{
			{"type": "code_interpreter"},
			{"type": "file_search"},
		},
		"response_format": "text",
	}
	n, err := c.do(ctx, http.MethodPost, "/v1/assistants", body)
	if err != nil {
		return nil, err
	}
	a := assistantFromNode(n)
	return &a, nil
}

func (c *Client) ListAssistants(ctx context.Context, limit int) ([]Assistant, error) {
	n, err := c.do(ctx, http.MethodGet, withQuery("/v1/assistants", limitQuery(limit)), nil)
	if err != nil {
		return nil, err
	}
	var out []Assistant
	for _, item := range listData(n) {
		out = append(out, assistantFromNode(item))
	}
	return out, nil
}

func (c *Client) DeleteAssistant(ctx context.Context, id string) (bool, error) {
	return c.deleted(ctx, "/v1/assistants/"+url.PathEscape(id))
}

func (c *Client) CreateVectorStore(ctx context.Context, name string) (*VectorStore, error) {
	n, err := c.do(ctx, http.MethodPost, "/v1/vector_stores", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	vs := vectorStoreFromNode(n)
	return &vs, nil
}

func (c *Client) ListVectorStores(ctx context.Context, limit int) ([]VectorStore, error) {
	n, err := c.do(ctx, http.MethodGet, withQuery("/v1/vector_stores", limitQuery(limit)), nil)
	if err != nil {
		return nil, err
	}
	var out []VectorStore
	for _, item := range listData(n) {
		out = append(out, vectorStoreFromNode(item))
	}
	return out, nil
}

func (c *Client) DeleteVectorStore(ctx context.Context, id string) (bool, error) {
	return c.deleted(ctx, "/v1/vector_stores/"+url.PathEscape(id))
}

// ListVectorStoreFiles returns the external ids of the files in a store.
func (c *Client) ListVectorStoreFiles(ctx context.Context, storeID string, limit int) ([]string, error) {
	path := withQuery("/v1/vector_stores/"+url.PathEscape(storeID)+"/files", limitQuery(limit))
	n, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, item := range listData(n) {
		if id := memberFileID(item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AddVectorStoreFile adds a file to a store using the static chunking policy.
func (c *Client) AddVectorStoreFile(ctx context.Context, storeID, fileID string) error {
	body := map[string]interface{}{
		"file_id": fileID,
		"chunking_strategy": map[string]interface{}{
			"type": "static",
			"static": map[string]int{
				"max_chunk_size_tokens": ChunkMaxTokens,
				"chunk_overlap_tokens":  ChunkOverlapTokens,
			},
		},
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/vector_stores/"+url.PathEscape(storeID)+"/files", body)
	return err
}

func (c *Client) RemoveVectorStoreFile(ctx context.Context, storeID, fileID string) (bool, error) {
	return c.deleted(ctx, "/v1/vector_stores/"+url.PathEscape(storeID)+"/files/"+url.PathEscape(fileID))
}

// UploadFile uploads content as a multipart form.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte, purpose string) (*File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return nil, fmt.Errorf("remote: upload %s: %w", filename, err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("remote: upload %s: %w", filename, err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("remote: upload %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: upload %s: %w", filename, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	raw, _, err := c.send(req)
	if err != nil {
		return nil, err
	}
	n, err := ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	f := fileFromNode(n)
	if f.Filename == "" {
		f.Filename = filename
	}
	if f.Bytes == 0 {
		f.Bytes = int64(len(content))
	}
	return &f, nil
}

// ListFiles lists files, optionally restricted to one purpose.
func (c *Client) ListFiles(ctx context.Context, purpose string) ([]File, error) {
	q := url.Values{}
	if purpose != "" {
		q.Set("purpose", purpose)
	}
	n, err := c.do(ctx, http.MethodGet, withQuery("/v1/files", q), nil)
	if err != nil {
		return nil, err
	}
	var out []File
	for _, item := range listData(n) {
		out = append(out, fileFromNode(item))
	}
	return out, nil
}

func (c *Client) DeleteFile(ctx context.Context, id string) (bool, error) {
	return c.deleted(ctx, "/v1/files/"+url.PathEscape(id))
}

func (c *Client) RetrieveFile(ctx context.Context, id string) (*File, error) {
	n, err := c.do(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	f := fileFromNode(n)
	return &f, nil
}

// RetrieveFileContent downloads a file. Some deployments wrap the bytes in
// a JSON envelope ({"data": "<base64>"}); that form is tried first and the
// raw body is returned otherwise.
func (c *Client) RetrieveFileContent(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(id)+"/content", nil, "")
	if err != nil {
		return nil, err
	}
	raw, header, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if data, ok := decodeContentEnvelope(header.Get("Content-Type"), raw); ok {
		return data, nil
	}
	return raw, nil
}

func decodeContentEnvelope(contentType string, raw []byte) ([]byte, bool) {
	if !strings.HasPrefix(strings.ToLower(contentType), "application/json") {
		return nil, false
	}
	n, err := ParseJSON(raw)
	if err != nil {
		return nil, false
	}
	encoded, ok := n.Get("data").Str()
	if !ok {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	return data, true
}

// CreateResponse submits a respond request. The file search tool is only
// attached when vector store ids are given.
func (c *Client) CreateResponse(ctx context.Context, r ResponseRequest) (*Response, error) {
	body := map[string]interface{}{
		"model": r.Model,
		"input": r.Input,
	}
	if r.Instructions != "" {
		body["instructions"] = r.Instructions
	}
	if r.MaxOutputTokens > 0 {
		body["max_output_tokens"] = r.MaxOutputTokens
	}
	if len(r.VectorStoreIDs) > 0 {
		body["tools"] = []map[string]interface{}{
			{"type": "file_search", "vector_store_ids": r.VectorStoreIDs},
		}
		body["tool_choice"] = "auto"
		body["parallel_tool_calls"] = true
	}
	n, err := c.do(ctx, http.MethodPost, "/v1/responses", body)
	if err != nil {
		return nil, err
	}
	return responseFromNode(n), nil
}

func (c *Client) RetrieveResponse(ctx context.Context, id string) (*Response, error) {
	n, err := c.do(ctx, http.MethodGet, "/v1/responses/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return responseFromNode(n), nil
}

// CreateThread creates a thread, binding tool resources when given.
func (c *Client) CreateThread(ctx context.Context, resources *ToolResources) (*Thread, error) {
	body := map[string]interface{}{}
	if resources != nil {
		tr := map[string]interface{}{}
		if len(resources.FileIDs) > 0 {
			tr["code_interpreter"] = map[string]interface{}{"file_ids": resources.FileIDs}
		}
		if len(resources.VectorStoreIDs) > 0 {
			tr["file_search"] = map[string]interface{}{"vector_store_ids": resources.VectorStoreIDs}
		}
		if len(tr) > 0 {
			body["tool_resources"] = tr
		}
	}
	n, err := c.do(ctx, http.MethodPost, "/v1/threads", body)
	if err != nil {
		return nil, err
	}
	return &Thread{ID: n.Get("id").Text()}, nil
}

func (c *Client) CreateThreadMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	_, err := c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/messages", body)
	return err
}

func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, model string) (*Run, error) {
	body := map[string]string{"assistant_id": assistantID}
	if model != "" {
		body["model"] = model
	}
	n, err := c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/runs", body)
	if err != nil {
		return nil, err
	}
	return runFromNode(n), nil
}

func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	n, err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, err
	}
	return runFromNode(n), nil
}

func (c *Client) ListRunSteps(ctx context.Context, threadID, runID string, limit int) ([]RunStep, error) {
	path := withQuery("/v1/threads/"+url.PathEscape(threadID)+"/runs/"+url.PathEscape(runID)+"/steps", limitQuery(limit))
	n, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []RunStep
	for _, item := range listData(n) {
		out = append(out, runStepFromNode(item))
	}
	return out, nil
}

func (c *Client) ListThreadMessages(ctx context.Context, threadID, order string, limit int) ([]ThreadMessage, error) {
	q := limitQuery(limit)
	if order != "" {
		q.Set("order", order)
	}
	n, err := c.do(ctx, http.MethodGet, withQuery("/v1/threads/"+url.PathEscape(threadID)+"/messages", q), nil)
	if err != nil {
		return nil, err
	}
	var out []ThreadMessage
	for _, item := range listData(n) {
		out = append(out, threadMessageFromNode(item))
	}
	return out, nil
}

func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	n, err := c.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	var out []Model
	for _, item := range listData(n) {
		out = append(out, Model{ID: item.Get("id").Text(), OwnedBy: item.Get("owned_by").Text()})
	}
	return out, nil
}

// deleted issues a DELETE and reports the payload's "deleted" flag.
func (c *Client) deleted(ctx context.Context, path string) (bool, error) {
	n, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return false, err
	}
	return n.Get("deleted").Bool(), nil
}
