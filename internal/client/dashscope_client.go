package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/config"
)

const (
	videoSynthesisPath = "/api/v1/services/aigc/video-generation/video-synthesis"
	transcriptionPath  = "/api/v1/services/audio/asr/transcription"
	taskPath           = "/api/v1/tasks/"
)

// DashScope task states
const (
	TaskStatusPending   = "PENDING"
	TaskStatusRunning   = "RUNNING"
	TaskStatusSucceeded = "SUCCEEDED"
	TaskStatusFailed    = "FAILED"
	TaskStatusCanceled  = "CANCELED"
	TaskStatusUnknown   = "UNKNOWN"
)

// DashScopeClient talks to DashScope's asynchronous task API
type DashScopeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        zerolog.Logger
}

// APIError is a non-2xx response from DashScope
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashscope API error (status %d): %s %s", e.StatusCode, e.Code, e.Message)
}

// VideoSynthesisRequest is the body for text-to-video and image-to-video tasks
type VideoSynthesisRequest struct {
	Model      string          `json:"model"`
	Input      VideoInput      `json:"input"`
	Parameters VideoParameters `json:"parameters"`
}

type VideoInput struct {
	Prompt   string `json:"prompt,omitempty"`
	ImageURL string `json:"img_url,omitempty"`
	Template string `json:"template,omitempty"`
}

type VideoParameters struct {
	Size         string `json:"size,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
}

// TranscriptionRequest is the body for file transcription tasks
type TranscriptionRequest struct {
	Model      string                  `json:"model"`
	Input      TranscriptionInput      `json:"input"`
	Parameters TranscriptionParameters `json:"parameters"`
}

type TranscriptionInput struct {
	FileURLs []string `json:"file_urls"`
}

type TranscriptionParameters struct {
	LanguageHints []string `json:"language_hints,omitempty"`
}

// TaskResponse is returned when a task is created
type TaskResponse struct {
	RequestID string     `json:"request_id"`
	Output    TaskOutput `json:"output"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// TaskOutput carries task state and, once finished, the result fields
type TaskOutput struct {
	TaskID     string              `json:"task_id"`
	TaskStatus string              `json:"task_status"`
	VideoURL   string              `json:"video_url,omitempty"`
	Results    []TranscriptionFile `json:"results,omitempty"`
	Code       string              `json:"code,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// TranscriptionFile is the per-file result of a transcription task
type TranscriptionFile struct {
	FileURL          string `json:"file_url"`
	TranscriptionURL string `json:"transcription_url,omitempty"`
	SubtaskStatus    string `json:"subtask_status"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// NewDashScopeClient creates a client authenticated with apiKey
func NewDashScopeClient(cfg *config.DashScopeConfig, apiKey string, log zerolog.Logger) *DashScopeClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DashScopeClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
		log:     log.With().Str("component", "dashscope").Logger(),
	}
}

// CreateVideoTask submits a video synthesis task
func (c *DashScopeClient) CreateVideoTask(ctx context.Context, req *VideoSynthesisRequest) (*TaskResponse, error) {
	var result TaskResponse
	if err := c.post(ctx, videoSynthesisPath, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateTranscriptionTask submits a file transcription task
func (c *DashScopeClient) CreateTranscriptionTask(ctx context.Context, req *TranscriptionRequest) (*TaskResponse, error) {
	var result TaskResponse
	if err := c.post(ctx, transcriptionPath, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTask retrieves the status of any task
func (c *DashScopeClient) GetTask(ctx context.Context, taskID string) (*TaskResponse, error) {
	var result TaskResponse
	if err := c.get(ctx, taskPath+taskID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsConfigured returns true if the client has an API key
func (c *DashScopeClient) IsConfigured() bool {
	return c.apiKey != ""
}

// post sends an asynchronous task creation request
func (c *DashScopeClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-DashScope-Async", "enable")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *DashScopeClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *DashScopeClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("→ request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("url", req.URL.String()).
		Bytes("body", respBody).Msg("← response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &body) == nil && body.Message != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		c.log.Warn().Err(err).Bytes("body", respBody).Msg("unmarshal error")
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
