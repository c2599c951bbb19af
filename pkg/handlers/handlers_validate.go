package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/shift-optimizer/pkg/validator"
)

type validateAssignmentRequest struct {
	validator.Assignment
	// Existing defaults to the committed assignments of the shift's schedule when omitted.
	Existing []validator.Assignment `json:"existing" binding:"dive"`
}

func respondResult(c *gin.Context, res *validator.Result) {
	errs, warnings := res.Errors, res.Warnings
	if errs == nil {
		errs = []validator.Violation{}
	}
	if warnings == nil {
		warnings = []validator.Violation{}
	}
	c.JSON(http.StatusOK, gin.H{
		"is_valid": res.IsValid(),
		"errors":   errs,
		"warnings": warnings,
	})
}

// ValidateAssignment checks one manual assignment
func (h *Handler) ValidateAssignment(c *gin.Context) {
	var req validateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.Validator.ValidateAssignment(c.Request.Context(), req.Assignment, req.Existing)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondResult(c, res)
}

// ValidateSchedule checks a proposed assignment set for a schedule, or its
// committed assignments when none is given
func (h *Handler) ValidateSchedule(c *gin.Context) {
	scheduleID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Assignments []validator.Assignment `json:"assignments" binding:"dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	res, err := h.Validator.ValidateWeeklySchedule(c.Request.Context(), scheduleID, req.Assignments)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondResult(c, res)
}
