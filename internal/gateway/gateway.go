// Package gateway wraps asynchronous compute vendors behind a uniform
// submit and poll interface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/matrixai/api/internal/model"
)

// Gateway submits a job to a vendor and reads back its state.
// Poll must be safe to call any number of times for the same task.
type Gateway interface {
	Submit(ctx context.Context, in Input) (taskID string, err error)
	Poll(ctx context.Context, taskID string) (Outcome, error)
}

// Input is the vendor-neutral job description
type Input struct {
	JobID      string
	Prompt     string
	ImageURL   string
	AudioURL   string
	Template   string
	Resolution string
	Language   string
}

// InputFromJob builds the gateway input for a stored job
func InputFromJob(job *model.Job) Input {
	return Input{
		JobID:      job.ID,
		Prompt:     job.Input.Prompt,
		ImageURL:   job.Input.ImageURL,
		AudioURL:   job.Input.AudioURL,
		Template:   job.Input.Template,
		Resolution: job.Input.Resolution,
		Language:   job.Input.Language,
	}
}

// State is the coarse state of a vendor task
type State int

const (
	StateRunning State = iota
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one poll
type Outcome struct {
	State       State
	ArtifactURL string // set when State is StateSucceeded
	Reason      string // set when State is StateFailed
}

func Running() Outcome {
	return Outcome{State: StateRunning}
}

func Succeeded(artifactURL string) Outcome {
	return Outcome{State: StateSucceeded, ArtifactURL: artifactURL}
}

func Failed(reason string) Outcome {
	return Outcome{State: StateFailed, Reason: reason}
}

// ErrorKind classifies a rejected submission
type ErrorKind string

const (
	AuthFailure  ErrorKind = "auth_failure"
	RateLimited  ErrorKind = "rate_limited"
	ServerError  ErrorKind = "server_error"
	InvalidInput ErrorKind = "invalid_input"
)

// SubmissionError is returned by Submit when the vendor did not accept the job
type SubmissionError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps a vendor HTTP status to a submission error kind
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusForbidden:
		return AuthFailure
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 500:
		return ServerError
	case status >= 400:
		return InvalidInput
	default:
		return ServerError
	}
}

// KindOf returns the submission error kind carried by err, or ServerError
func KindOf(err error) ErrorKind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ServerError
}

// statusMessages are the caller-facing descriptions per kind
var statusMessages = map[ErrorKind]string{
	AuthFailure:  "API key unauthorized for this model",
	RateLimited:  "Rate limit exceeded, please retry later",
	ServerError:  "Vendor service unavailable",
	InvalidInput: "Vendor rejected the request",
}
