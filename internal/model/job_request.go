package model

import "time"

// CreateJobRequest represents the request body for POST /api/jobs
type CreateJobRequest struct {
	OwnerID    string  `json:"ownerId,omitempty" validate:"omitempty,max=128"`
	Kind       JobKind `json:"kind,omitempty" validate:"omitempty,oneof=text-to-video image-to-video image-to-video-template transcription"`
	Prompt     string  `json:"prompt,omitempty" validate:"omitempty,max=2000"`
	ImageURL   string  `json:"imageUrl,omitempty" validate:"omitempty,url,max=2048"`
	AudioURL   string  `json:"audioUrl,omitempty" validate:"omitempty,url,max=2048"`
	Template   string  `json:"template,omitempty" validate:"omitempty,max=64"`
	Resolution string  `json:"resolution,omitempty" validate:"omitempty,oneof=480P 720P 1080P"`
	Language   string  `json:"language,omitempty" validate:"omitempty,max=16"`
}

// ResolveKind returns the explicit kind, or infers one from the supplied
// fields, and checks the field combination the kind needs.
func (r *CreateJobRequest) ResolveKind() (JobKind, error) {
	kind := r.Kind
	if kind == "" {
		switch {
		case r.ImageURL != "" && r.Template != "":
			kind = JobKindImageToVideoTemplate
		case r.ImageURL != "":
			kind = JobKindImageToVideo
		case r.AudioURL != "":
			kind = JobKindTranscription
		case r.Prompt != "":
			kind = JobKindTextToVideo
		default:
			return "", &ValidationError{Message: "one of prompt, imageUrl or audioUrl is required"}
		}
	}

	switch kind {
	case JobKindTextToVideo:
		if r.Prompt == "" {
			return "", &ValidationError{Field: "prompt", Message: "required for text-to-video"}
		}
	case JobKindImageToVideo:
		if r.ImageURL == "" {
			return "", &ValidationError{Field: "imageUrl", Message: "required for image-to-video"}
		}
	case JobKindImageToVideoTemplate:
		if r.ImageURL == "" {
			return "", &ValidationError{Field: "imageUrl", Message: "required for image-to-video-template"}
		}
		if r.Template == "" {
			return "", &ValidationError{Field: "template", Message: "required for image-to-video-template"}
		}
	case JobKindTranscription:
		if r.AudioURL == "" {
			return "", &ValidationError{Field: "audioUrl", Message: "required for transcription"}
		}
	default:
		return "", &ValidationError{Field: "kind", Message: "unsupported job kind"}
	}

	if r.Template != "" && kind != JobKindImageToVideoTemplate {
		return "", &ValidationError{Field: "template", Message: "only valid for image-to-video-template"}
	}

	return kind, nil
}

// Input converts the request into the job input descriptor
func (r *CreateJobRequest) Input() JobInput {
	return JobInput{
		Prompt:     r.Prompt,
		ImageURL:   r.ImageURL,
		AudioURL:   r.AudioURL,
		Template:   r.Template,
		Resolution: r.Resolution,
		Language:   r.Language,
	}
}

// CreateJobResponse represents the response for POST /api/jobs
type CreateJobResponse struct {
	JobID  string  `json:"jobId"`
	Status string  `json:"status"`
	Kind   JobKind `json:"kind"`
	Cost   int64   `json:"cost"`
}

// JobStatusResponse represents the response for GET /api/jobs/:jobId
type JobStatusResponse struct {
	JobID     string    `json:"jobId"`
	Kind      JobKind   `json:"kind"`
	Status    string    `json:"status"`
	ResultURL string    `json:"resultUrl,omitempty"`
	Error     *JobError `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewJobStatusResponse builds the caller-facing view of a job
func NewJobStatusResponse(job *Job) *JobStatusResponse {
	resp := &JobStatusResponse{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    job.Status.APIStatus(),
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.ResultURL != nil {
		resp.ResultURL = *job.ResultURL
	}
	return resp
}

// JobListFilter narrows GET /api/jobs
type JobListFilter struct {
	Kind    JobKind
	Page    int
	PerPage int
}

// JobListResponse represents the response for GET /api/jobs
type JobListResponse struct {
	Jobs    []*JobStatusResponse `json:"jobs"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"perPage"`
	Total   int                  `json:"total"`
}

// DeleteJobResponse represents the response for DELETE /api/jobs/:jobId
type DeleteJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}
