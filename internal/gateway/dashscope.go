package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/matrixai/api/internal/client"
)

// TaskClient is the subset of the DashScope client the gateways use
type TaskClient interface {
	CreateVideoTask(ctx context.Context, req *client.VideoSynthesisRequest) (*client.TaskResponse, error)
	CreateTranscriptionTask(ctx context.Context, req *client.TranscriptionRequest) (*client.TaskResponse, error)
	GetTask(ctx context.Context, taskID string) (*client.TaskResponse, error)
}

// VideoGateway generates videos through DashScope video synthesis models
type VideoGateway struct {
	client            TaskClient
	model             string
	defaultResolution string
	// sized models take a WIDTH*HEIGHT size instead of a resolution tier
	sized bool
}

// NewTextToVideoGateway creates the text-to-video variant
func NewTextToVideoGateway(c TaskClient, model, defaultResolution string) *VideoGateway {
	return &VideoGateway{client: c, model: model, defaultResolution: defaultResolution, sized: true}
}

// NewImageToVideoGateway creates an image-to-video variant. The same type
// serves the plus model used for premium templates.
func NewImageToVideoGateway(c TaskClient, model, defaultResolution string) *VideoGateway {
	return &VideoGateway{client: c, model: model, defaultResolution: defaultResolution}
}

// Model returns the vendor model name
func (g *VideoGateway) Model() string {
	return g.model
}

func (g *VideoGateway) Submit(ctx context.Context, in Input) (string, error) {
	req := &client.VideoSynthesisRequest{
		Model: g.model,
		Input: client.VideoInput{
			Prompt:   in.Prompt,
			ImageURL: in.ImageURL,
			Template: in.Template,
		},
	}

	resolution := in.Resolution
	if resolution == "" {
		resolution = g.defaultResolution
	}
	if g.sized {
		req.Parameters.Size = sizeForResolution(resolution)
	} else {
		req.Parameters.Resolution = resolution
	}
	if in.Template == "" {
		extend := true
		req.Parameters.PromptExtend = &extend
	}

	resp, err := g.client.CreateVideoTask(ctx, req)
	return taskIDFrom(resp, err)
}

func (g *VideoGateway) Poll(ctx context.Context, taskID string) (Outcome, error) {
	resp, err := g.client.GetTask(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}
	return outcomeFrom(resp.Output, resp.Output.VideoURL), nil
}

// TranscriptionGateway transcribes audio files with DashScope ASR models.
// The artifact is the JSON transcript document.
type TranscriptionGateway struct {
	client TaskClient
	model  string
}

// NewTranscriptionGateway creates the transcription variant
func NewTranscriptionGateway(c TaskClient, model string) *TranscriptionGateway {
	return &TranscriptionGateway{client: c, model: model}
}

// Model returns the vendor model name
func (g *TranscriptionGateway) Model() string {
	return g.model
}

func (g *TranscriptionGateway) Submit(ctx context.Context, in Input) (string, error) {
	req := &client.TranscriptionRequest{
		Model: g.model,
		Input: client.TranscriptionInput{FileURLs: []string{in.AudioURL}},
	}
	if in.Language != "" {
		req.Parameters.LanguageHints = []string{in.Language}
	}

	resp, err := g.client.CreateTranscriptionTask(ctx, req)
	return taskIDFrom(resp, err)
}

func (g *TranscriptionGateway) Poll(ctx context.Context, taskID string) (Outcome, error) {
	resp, err := g.client.GetTask(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}

	var artifactURL string
	for _, r := range resp.Output.Results {
		if r.SubtaskStatus == client.TaskStatusFailed {
			return Failed(fmt.Sprintf("transcription failed: %s %s", r.Code, r.Message)), nil
		}
		if artifactURL == "" {
			artifactURL = r.TranscriptionURL
		}
	}
	return outcomeFrom(resp.Output, artifactURL), nil
}

// taskIDFrom turns a create-task response into a task id or a classified error
func taskIDFrom(resp *client.TaskResponse, err error) (string, error) {
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			kind := ClassifyStatus(apiErr.StatusCode)
			msg := statusMessages[kind]
			if apiErr.Message != "" {
				msg = fmt.Sprintf("%s: %s", msg, apiErr.Message)
			}
			return "", &SubmissionError{Kind: kind, Status: apiErr.StatusCode, Message: msg, Err: err}
		}
		return "", &SubmissionError{Kind: ServerError, Message: err.Error(), Err: err}
	}

	if resp.Output.TaskID == "" {
		msg := "no task id in response"
		if resp.Message != "" {
			msg = resp.Message
		}
		return "", &SubmissionError{Kind: ServerError, Message: msg}
	}
	return resp.Output.TaskID, nil
}

// outcomeFrom maps DashScope task states onto gateway outcomes
func outcomeFrom(out client.TaskOutput, artifactURL string) Outcome {
	switch out.TaskStatus {
	case client.TaskStatusPending, client.TaskStatusRunning:
		return Running()
	case client.TaskStatusSucceeded:
		if artifactURL == "" {
			return Failed("task succeeded without a result URL")
		}
		return Succeeded(artifactURL)
	case client.TaskStatusFailed, client.TaskStatusCanceled, client.TaskStatusUnknown:
		reason := out.TaskStatus
		if out.Message != "" {
			reason = fmt.Sprintf("%s: %s %s", out.TaskStatus, out.Code, out.Message)
		}
		return Failed(reason)
	default:
		return Failed(fmt.Sprintf("unexpected task status %q", out.TaskStatus))
	}
}

// sizeForResolution maps a resolution tier onto a landscape frame size
func sizeForResolution(resolution string) string {
	switch resolution {
	case "480P":
		return "832*480"
	case "1080P":
		return "1920*1080"
	default:
		return "1280*720"
	}
}
