package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/middleware"
	"github.com/matrixai/api/internal/model"
	"github.com/matrixai/api/internal/service"
	"github.com/matrixai/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
	log       zerolog.Logger
}

func NewJobHandler(svc *service.JobService, v *validator.Validate, log zerolog.Logger) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
		log:       log.With().Str("component", "job_handler").Logger(),
	}
}

// Create handles POST /api/jobs
// @Summary      Create generation job
// @Description  Charge the caller and start an asynchronous video generation or transcription job.
// @Description  The kind is inferred from the supplied fields when omitted.
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.CreateJobRequest true "Job request"
// @Success      202 {object} model.CreateJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [post]
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	if req.OwnerID != "" && req.OwnerID != userID {
		return response.Forbidden(c, model.ErrOwnerMismatch.Error())
	}

	kind, err := req.ResolveKind()
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return requestValidationError(c, ve)
		}
		return response.ValidationError(c, err.Error(), nil)
	}

	result, err := h.service.Create(c.UserContext(), userID, kind, &req)
	if err != nil {
		var ve *model.ValidationError
		var subErr *service.SubmissionFailedError
		switch {
		case errors.Is(err, model.ErrInsufficientFunds):
			return response.InsufficientFunds(c, nil)
		case errors.Is(err, model.ErrAccountNotFound):
			return response.AccountNotFound(c)
		case errors.As(err, &ve):
			return requestValidationError(c, ve)
		case errors.As(err, &subErr):
			return response.JobFailed(c, "Job submission failed", fiber.Map{
				"jobId":  subErr.JobID,
				"status": model.APIStatusFailed,
				"error":  subErr.Cause,
			})
		default:
			h.log.Error().Err(err).Str("user_id", userID).Msg("job creation failed")
			return response.ServiceError(c, "Failed to create job")
		}
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Get the status of a job. Finished jobs return 200, running jobs return 202.
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Success      202 {object} model.JobStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.UserContext(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	if result.Status == model.APIStatusProcessing {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// List handles GET /api/jobs
// @Summary      List jobs
// @Description  List the caller's jobs, newest first
// @Tags         Jobs
// @Produce      json
// @Param        kind    query string false "Filter by job kind"
// @Param        page    query int    false "Page number (1-based)"
// @Param        perPage query int    false "Page size (max 100)"
// @Success      200 {object} model.JobListResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [get]
func (h *JobHandler) List(c *fiber.Ctx) error {
	filter := model.JobListFilter{
		Kind:    model.JobKind(c.Query("kind")),
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("perPage", 20),
	}
	if filter.Kind != "" && !isValidKind(filter.Kind) {
		return response.ValidationError(c, "Unknown job kind", map[string]string{"kind": string(filter.Kind)})
	}

	result, err := h.service.List(c.UserContext(), middleware.GetUserID(c), filter)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Delete handles DELETE /api/jobs/:jobId
// @Summary      Delete job
// @Description  Stop a job, remove its record and its stored artifact
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.DeleteJobResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId} [delete]
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Delete(c.UserContext(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func isValidKind(kind model.JobKind) bool {
	for _, k := range model.ValidJobKinds {
		if k == kind {
			return true
		}
	}
	return false
}
