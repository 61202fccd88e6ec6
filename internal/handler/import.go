package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/job"
)

// StartImport queues a batch import for a workspace. An already active
// import is a conflict; the running job's relay chain owns progress.
func (h *Handlers) StartImport(c *gin.Context) {
	workspaceID := c.Param("id")

	ws, err := h.workspaces.GetByID(c.Request.Context(), workspaceID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Workspace not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	active, err := h.importJobs.GetActive(c.Request.Context(), ws.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to check active imports",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if active != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "import_active",
			Message: "An import is already running for this workspace",
			Code:    http.StatusConflict,
		})
		return
	}

	var req ImportStartRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}
	target := req.TotalTarget
	if target <= 0 {
		target = ws.ImportTarget
	}

	payload, err := job.Encode(job.KindImport, ws.ID, job.ImportPayload{TotalTarget: target})
	if err == nil {
		err = h.queue.Send(c.Request.Context(), job.KindImport.Queue(), payload, 0)
	}
	if err != nil {
		logrus.Errorf("Failed to enqueue import for workspace %s: %v", ws.ID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "enqueue_failed",
			Message: "Failed to start import",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "total_target": target})
}

// GetImportStatus reports the latest import job for a workspace
func (h *Handlers) GetImportStatus(c *gin.Context) {
	imp, err := h.importJobs.GetLatest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch import status",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if imp == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No import found for this workspace",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, ImportStatusResponse{
		JobID:         imp.ID,
		Status:        string(imp.Status),
		SentImported:  imp.SentImported,
		InboxImported: imp.InboxImported,
		TotalTarget:   imp.TotalTarget,
		LastError:     imp.LastError,
		LastBatchAt:   imp.LastBatchAt,
	})
}

// CancelImport requests cancellation of the active import. The running
// relay observes the status flip at its next checkpoint.
func (h *Handlers) CancelImport(c *gin.Context) {
	cancelled, err := h.importJobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to cancel import",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if !cancelled {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No active import to cancel",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StartConsolidation begins a FAQ consolidation run
func (h *Handlers) StartConsolidation(c *gin.Context) {
	workspaceID := c.Param("id")

	if _, err := h.workspaces.GetByID(c.Request.Context(), workspaceID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Workspace not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	run, err := h.consolidator.Start(c.Request.Context(), workspaceID)
	if err != nil {
		logrus.Errorf("Failed to start consolidation for workspace %s: %v", workspaceID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "enqueue_failed",
			Message: "Failed to start consolidation",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": run.ID})
}

// GetConsolidationStatus reports a consolidation run's progress
func (h *Handlers) GetConsolidationStatus(c *gin.Context) {
	run, err := h.faqs.GetConsolidationJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Consolidation job not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, ConsolidationStatusResponse{
		JobID:      run.ID,
		Status:     string(run.Status),
		Phase:      string(run.Phase),
		ChunkIndex: run.ChunkIndex,
		LastError:  run.LastError,
	})
}
