package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fleetops/patchflow/internal/api/dto"
	"github.com/fleetops/patchflow/internal/domain"
)

// PatchSingle handles POST /api/v1/patch
// Runs one patch request to completion and reports its terminal outcome.
func (h *PatchHandler) PatchSingle(c *gin.Context) {
	var req dto.SinglePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	summary := h.scheduler.Schedule(c.Request.Context(), []domain.PatchRequest{
		{
			MachineName:   req.MachineName,
			SoftwareName:  req.SoftwareName,
			Version:       req.Version,
			ResourceGroup: req.ResourceGroup,
		},
	}, 1)

	result := summary.Results[0]

	// Processing the request is a success at the HTTP layer even when the
	// job itself failed; the body carries the job outcome.
	c.JSON(http.StatusOK, dto.SinglePatchResponse{
		MachineName:   result.MachineName,
		SoftwareName:  result.SoftwareName,
		Version:       result.Version,
		Status:        result.Status,
		CommandID:     result.CommandID,
		Timestamp:     result.Timestamp.Format(time.RFC3339),
		Output:        result.Output,
		ResourceGroup: result.ResourceGroup,
		Error:         result.Error,
	})
}

// PatchBatch handles POST /api/v1/patch/batch
// Runs a whole batch synchronously and reports the aggregated summary.
func (h *PatchHandler) PatchBatch(c *gin.Context) {
	var req dto.BatchPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	summary := h.scheduler.Schedule(c.Request.Context(), toPatchRequests(req.PatchJobs), req.MaxConcurrency)

	c.JSON(http.StatusOK, toBatchResponse(summary))
}

// PatchBatchAsync handles POST /api/v1/patch/batch/async
// Queues the batch for the worker service and acknowledges immediately.
func (h *PatchHandler) PatchBatchAsync(c *gin.Context) {
	var req dto.BatchPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	message := domain.BatchMessage{
		BatchID:        uuid.New().String(),
		MaxConcurrency: req.MaxConcurrency,
		PatchJobs:      make([]domain.BatchMessageJob, 0, len(req.PatchJobs)),
	}
	for _, j := range req.PatchJobs {
		message.PatchJobs = append(message.PatchJobs, domain.BatchMessageJob{
			MachineName:   j.MachineName,
			SoftwareName:  j.SoftwareName,
			Version:       j.Version,
			ResourceGroup: j.ResourceGroup,
		})
	}

	body, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal batch message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to queue batch",
		})
		return
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish batch message",
			slog.String("batch_id", message.BatchID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to queue batch",
		})
		return
	}

	h.logger.Info("Batch queued for async processing",
		slog.String("batch_id", message.BatchID),
		slog.Int("total_jobs", len(message.PatchJobs)),
	)

	c.JSON(http.StatusAccepted, dto.AsyncBatchResponse{
		BatchID:   message.BatchID,
		TotalJobs: len(message.PatchJobs),
		Status:    "Queued",
	})
}

func toPatchRequests(jobs []dto.SinglePatchRequest) []domain.PatchRequest {
	requests := make([]domain.PatchRequest, 0, len(jobs))
	for _, j := range jobs {
		requests = append(requests, domain.PatchRequest{
			MachineName:   j.MachineName,
			SoftwareName:  j.SoftwareName,
			Version:       j.Version,
			ResourceGroup: j.ResourceGroup,
		})
	}
	return requests
}

func toBatchResponse(summary *domain.BatchSummary) dto.BatchPatchResponse {
	results := make([]dto.JobResultEntry, 0, len(summary.Results))
	for _, r := range summary.Results {
		results = append(results, dto.JobResultEntry{
			JobID:         r.JobID,
			MachineName:   r.MachineName,
			SoftwareName:  r.SoftwareName,
			Version:       r.Version,
			ResourceGroup: r.ResourceGroup,
			Status:        r.Status,
			CommandID:     r.CommandID,
			Output:        r.Output,
			Error:         r.Error,
			Timestamp:     r.Timestamp.Format(time.RFC3339),
		})
	}

	return dto.BatchPatchResponse{
		TotalJobs:      summary.TotalJobs,
		SuccessfulJobs: summary.SuccessfulJobs,
		FailedJobs:     summary.FailedJobs,
		ProcessingMode: summary.ProcessingMode,
		Timestamp:      summary.Timestamp.Format(time.RFC3339),
		Results:        results,
	}
}
