// Package bridge is the HTTP client for the conversational AI API. It
// enqueues incoming messages, polls the resulting jobs, records history-only
// messages, and wraps the voice endpoints (transcription, synthesis) and the
// per-chat preference lookup.
package bridge

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
	"strings"
	"time"
)

// ClientConfig configures the AI API client.
type ClientConfig struct {
	BaseURL      string        // e.g., "http://localhost:8000"
	Timeout      time.Duration // per-request timeout
	PollInterval time.Duration // delay between job status polls
	PollTimeout  time.Duration // wall-clock cap on a single Await call
	Logger       *slog.Logger
}

// Client talks to the AI API. All methods are safe for concurrent use.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// NewClient creates an AI API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		client:       sharedHTTPClient(cfg.Timeout),
		logger:       cfg.Logger,
	}
}

// Submit enqueues a message for processing. Commands are executed
// synchronously by the API, so callers must check IsCommand on the result
// before polling the returned job.
func (c *Client) Submit(ctx context.Context, req ChatRequest) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.postJSON(ctx, "/chat/enqueue", req, &result); err != nil {
		return nil, fmt.Errorf("enqueue chat: %w", err)
	}
	return &result, nil
}

// Await polls a job until it reaches a terminal state. Failed and unknown
// jobs come back as *JobError; a job still running when the poll window
// closes comes back wrapping ErrPollTimeout.
func (c *Client) Await(ctx context.Context, jobID string) (*JobStatus, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case StatusComplete:
			c.logger.Debug("job complete",
				"job_id", jobID,
				"polls", polls,
				"chunks", status.TotalChunks,
			)
			return status, nil
		case StatusFailed, StatusNotFound:
			return nil, &JobError{JobID: jobID, Status: status.Status, Message: status.Error}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s still %s after %s: %w",
				jobID, status.Status, c.pollTimeout, ErrPollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) jobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var status JobStatus
	if err := c.getJSON(ctx, "/chat/job/"+url.PathEscape(jobID), &status); err != nil {
		return nil, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	return &status, nil
}

// Save records a message in conversation history without generating a reply.
func (c *Client) Save(ctx context.Context, req SaveRequest) error {
	if err := c.postJSON(ctx, "/chat/save", req, nil); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// Preferences fetches the voice settings for a chat.
func (c *Client) Preferences(ctx context.Context, jid string) (*Preferences, error) {
	var prefs Preferences
	if err := c.getJSON(ctx, "/preferences/"+url.PathEscape(jid), &prefs); err != nil {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	return &prefs, nil
}

// Transcribe converts a voice note to text. The payload is validated before
// any bytes go on the wire. A 503 from the API means no speech-to-text
// backend is configured.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if req.Language != "" {
		writer.WriteField("language", req.Language)
	}
	if req.JID != "" {
		writer.WriteField("whatsapp_jid", req.JID)
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var result Transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	return &result, nil
}

// Synthesize converts text to an OGG/Opus voice clip. The caller owns the
// returned body and must close it.
func (c *Client) Synthesize(ctx context.Context, text, jid string) (io.ReadCloser, error) {
	payload, err := json.Marshal(ttsRequest{Text: text, JID: jid, Format: "ogg"})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp.Body, nil
}

// Health checks that the AI API is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Detail: "health check failed"}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readError turns a non-2xx response into an *APIError, preferring the
// {"detail": ...} body the API uses for errors.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		detail = payload.Detail
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: detail}
}
