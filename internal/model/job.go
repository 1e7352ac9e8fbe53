package model

import "time"

// Job represents one unit of requested generation work
type Job struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	Kind           JobKind    `json:"kind"`
	Variant        string     `json:"variant,omitempty"` // gateway variant that served the job
	Input          JobInput   `json:"input"`
	Status         JobStatus  `json:"status"`
	ExternalTaskID *string    `json:"externalTaskId,omitempty"`
	ResultURL      *string    `json:"resultUrl,omitempty"`
	SourceURL      *string    `json:"sourceUrl,omitempty"`   // vendor artifact URL
	ArtifactKey    *string    `json:"artifactKey,omitempty"` // storage key of the rehosted artifact
	Error          *JobError  `json:"error,omitempty"`
	Cost           int64      `json:"cost"`
	Refunded       bool       `json:"refunded"`
	PollAttempts   int        `json:"pollAttempts"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// JobInput is the input descriptor handed to the compute gateway
type JobInput struct {
	Prompt     string `json:"prompt,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
	Template   string `json:"template,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Language   string `json:"language,omitempty"`
}

// JobError is the failure detail stored on a failed job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	return e.Code + ": " + e.Message
}

// JobTaskPayload is the background task payload for a job
type JobTaskPayload struct {
	JobID string `json:"jobId"`
}

// JobEvent is published on every persisted job transition
type JobEvent struct {
	JobID      string    `json:"jobId"`
	OwnerID    string    `json:"ownerId"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	ResultURL  string    `json:"resultUrl,omitempty"`
	Error      *JobError `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewJobEvent snapshots a job into an event
func NewJobEvent(job *Job) JobEvent {
	ev := JobEvent{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Kind:       job.Kind,
		Status:     job.Status,
		Error:      job.Error,
		OccurredAt: time.Now().UTC(),
	}
	if job.ResultURL != nil {
		ev.ResultURL = *job.ResultURL
	}
	return ev
}
