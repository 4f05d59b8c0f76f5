package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"zodiac/pipeline-service/internal/pipeline"
)

const defaultTimeout = 15 * time.Second

// Client is a thin wrapper over the ATS REST API. All stage, note, document
// and conversation traffic to the system of record goes through it.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a Client for the ATS at baseURL.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// PushStage updates the candidate's stage on the given job, with an optional
// note. Implements pipeline.StageSyncer.
func (c *Client) PushStage(ctx context.Context, jobRef, candidateRef string, state pipeline.State, note string) error {
	body := map[string]string{
		"stage":      StageFor(state),
		"updated_by": "zodiac-pipeline",
	}
	if note != "" {
		body["notes"] = note
	}
	path := fmt.Sprintf("/jobs/%s/candidates/%s/stage", url.PathEscape(jobRef), url.PathEscape(candidateRef))
	if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return &pipeline.SyncError{Op: "push stage", Err: err}
	}
	c.logger.Info("ats stage updated", "jobRef", jobRef, "candidateRef", candidateRef,
		"state", state, "stage", StageFor(state))
	return nil
}

// AddNote attaches a free-text note to the candidate on a job.
func (c *Client) AddNote(ctx context.Context, jobRef, candidateRef, note string) error {
	path := fmt.Sprintf("/jobs/%s/candidates/%s/notes", url.PathEscape(jobRef), url.PathEscape(candidateRef))
	body := map[string]string{"note": note, "created_by": "zodiac-pipeline"}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return &pipeline.SyncError{Op: "add note", Err: err}
	}
	return nil
}

// UploadDocument attaches a generated document (e.g. a refined CV) to the
// candidate. Returns the document URL reported by the ATS.
func (c *Client) UploadDocument(ctx context.Context, jobRef, candidateRef, fileName string, content []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", &pipeline.SyncError{Op: "upload document", Err: err}
	}
	if _, err := fw.Write(content); err != nil {
		return "", &pipeline.SyncError{Op: "upload document", Err: err}
	}
	_ = w.WriteField("job_id", jobRef)
	_ = w.WriteField("document_type", "resume")
	if err := w.Close(); err != nil {
		return "", &pipeline.SyncError{Op: "upload document", Err: err}
	}

	path := fmt.Sprintf("/candidates/%s/documents", url.PathEscape(candidateRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return "", &pipeline.SyncError{Op: "upload document", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.send(req, &out); err != nil {
		return "", &pipeline.SyncError{Op: "upload document", Err: err}
	}
	c.logger.Info("ats document uploaded", "candidateRef", candidateRef, "fileName", fileName)
	return out.URL, nil
}

// FetchConversationHistory loads the stored engagement transcript for a
// candidate on a job. Missing history is an empty string, not an error.
func (c *Client) FetchConversationHistory(ctx context.Context, jobRef, candidateRef string) (string, error) {
	path := fmt.Sprintf("/jobs/%s/candidates/%s/notes?tag=chat_history&limit=1",
		url.PathEscape(jobRef), url.PathEscape(candidateRef))
	var out struct {
		Data []struct {
			Note string `json:"note"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", &pipeline.SyncError{Op: "fetch conversation history", Err: err}
	}
	if len(out.Data) == 0 {
		return "", nil
	}
	return out.Data[0].Note, nil
}

// SaveConversationHistory stores the engagement transcript as a tagged note.
func (c *Client) SaveConversationHistory(ctx context.Context, jobRef, candidateRef, history string) error {
	path := fmt.Sprintf("/jobs/%s/candidates/%s/notes", url.PathEscape(jobRef), url.PathEscape(candidateRef))
	body := map[string]string{
		"note":       history,
		"tag":        "chat_history",
		"created_by": "zodiac-pipeline",
	}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return &pipeline.SyncError{Op: "save conversation history", Err: err}
	}
	return nil
}

// do issues a JSON request against the ATS and decodes the response into out
// when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
