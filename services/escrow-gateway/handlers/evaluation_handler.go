package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/services"
)

// EvaluationHandler handles evaluation and auto-approval requests
type EvaluationHandler struct {
	approvalService *services.ApprovalService
}

// NewEvaluationHandler creates a new evaluation handler
func NewEvaluationHandler(approvalService *services.ApprovalService) *EvaluationHandler {
	return &EvaluationHandler{
		approvalService: approvalService,
	}
}

// EvaluateTask evaluates a submitted task's result and, when the
// verdict allows and this session is the creator, releases payment.
func (h *EvaluationHandler) EvaluateTask(c *gin.Context) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "task ID must be a non-negative integer",
		})
		return
	}

	evaluation, autoApproved, err := h.approvalService.EvaluateAndMaybeApprove(c.Request.Context(), escrow.TaskID(id))
	if err != nil {
		status := statusForError(err)
		response := gin.H{
			"success": false,
			"error":   err.Error(),
		}
		// The verdict is still useful when only the release failed.
		if evaluation != nil {
			response["evaluation"] = evaluation
		}
		c.JSON(status, response)
		return
	}

	message := "Evaluation complete; manual review required"
	if autoApproved {
		message = "Evaluation complete; payment auto-approved"
	}

	c.JSON(http.StatusOK, models.EvaluateResponse{
		Success:      true,
		Evaluation:   evaluation,
		AutoApproved: autoApproved,
		Message:      message,
	})
}
