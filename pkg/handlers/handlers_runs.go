package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/orchestrator"
)

type optimizeRequest struct {
	ConfigID         *uint `json:"config_id"`
	ApplyAssignments bool  `json:"apply_assignments"`
	ReplaceExisting  bool  `json:"replace_existing"`
}

// SubmitOptimization creates a PENDING run and hands it to the worker
func (h *Handler) SubmitOptimization(c *gin.Context) {
	scheduleID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	run, err := h.Orchestrator.Submit(ctx, orchestrator.SubmitRequest{
		ScheduleID:       scheduleID,
		ConfigID:         req.ConfigID,
		ApplyAssignments: req.ApplyAssignments,
		ReplaceExisting:  req.ReplaceExisting,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !h.Dispatcher.Submit(run.ID) {
		h.Logger.Warn("run not queued, it will be picked up on restart", zap.String("run_id", run.ID.String()))
	}

	// Record usage
	shifts, err := h.Store.ListActiveShifts(ctx, scheduleID)
	if err != nil {
		h.Logger.Warn("failed to count shifts for usage", zap.Error(err))
	}
	employees, err := h.Store.ListEmployees(ctx)
	if err != nil {
		h.Logger.Warn("failed to count employees for usage", zap.Error(err))
	}
	active := 0
	for _, e := range employees {
		if e.IsActive {
			active++
		}
	}
	h.RecordUsage(c, len(shifts), active)

	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "status": run.Status})
}

// ListRuns returns the runs of a schedule, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	scheduleID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	runs, err := h.Orchestrator.ListRuns(c.Request.Context(), scheduleID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if runs == nil {
		runs = []models.SchedulingRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) GetRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	run, err := h.Orchestrator.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) ListSolutions(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	solutions, err := h.Orchestrator.ListSolutions(c.Request.Context(), runID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if solutions == nil {
		solutions = []models.SchedulingSolution{}
	}
	c.JSON(http.StatusOK, gin.H{"solutions": solutions})
}

// ApplySolution commits a completed run's assignments
func (h *Handler) ApplySolution(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Overwrite bool `json:"overwrite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	res, err := h.Orchestrator.ApplySolution(c.Request.Context(), runID, req.Overwrite)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CancelRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	run, err := h.Orchestrator.CancelRun(c.Request.Context(), runID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) DeleteRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	if err := h.Orchestrator.DeleteRun(c.Request.Context(), runID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
