package model

// Job kinds
type JobKind string

const (
	JobKindTextToVideo          JobKind = "text-to-video"
	JobKindImageToVideo         JobKind = "image-to-video"
	JobKindImageToVideoTemplate JobKind = "image-to-video-template"
	JobKindTranscription        JobKind = "transcription"
)

var ValidJobKinds = []JobKind{
	JobKindTextToVideo, JobKindImageToVideo, JobKindImageToVideoTemplate, JobKindTranscription,
}

// IsVideo reports whether the kind produces a video artifact.
func (k JobKind) IsVideo() bool {
	return k == JobKindTextToVideo || k == JobKindImageToVideo || k == JobKindImageToVideoTemplate
}

// Job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusPolling   JobStatus = "polling"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ActiveJobStatuses are the statuses a job can still leave.
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusSubmitted, JobStatusPolling}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Status values exposed by the jobs API
const (
	APIStatusPending    = "pending"
	APIStatusProcessing = "processing"
	APIStatusCompleted  = "completed"
	APIStatusFailed     = "failed"
)

// APIStatus collapses the internal state machine into the values callers see.
func (s JobStatus) APIStatus() string {
	switch s {
	case JobStatusCompleted:
		return APIStatusCompleted
	case JobStatusFailed:
		return APIStatusFailed
	default:
		return APIStatusProcessing
	}
}

// Error codes recorded on failed jobs
const (
	JobErrorSubmission          = "submission_error"
	JobErrorTimeout             = "timeout"
	JobErrorExternalFailure     = "external_failure"
	JobErrorArtifactUnavailable = "artifact_unavailable"
	JobErrorStorage             = "storage_error"
)

// Ledger transaction outcomes
type TransactionOutcome string

const (
	TransactionSuccess  TransactionOutcome = "success"
	TransactionFailed   TransactionOutcome = "failed"
	TransactionRefunded TransactionOutcome = "refunded"
)

// Video resolutions accepted by the video models
const (
	Resolution480P  = "480P"
	Resolution720P  = "720P"
	Resolution1080P = "1080P"
)
