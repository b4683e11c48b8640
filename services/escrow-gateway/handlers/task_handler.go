package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/services"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	escrowService *services.EscrowService
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(escrowService *services.EscrowService) *TaskHandler {
	return &TaskHandler{
		escrowService: escrowService,
	}
}

// CreateTask handles escrow-funded task creation
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format: " + err.Error(),
		})
		return
	}

	if !models.ValidHexAddress(req.Agent) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "agent must be a valid address",
		})
		return
	}

	token := escrow.NativeToken
	if req.Token != "" {
		if !models.ValidHexAddress(req.Token) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "token must be a valid address",
			})
			return
		}
		token = common.HexToAddress(req.Token)
	}

	amount, ok := req.ParsedAmount()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "amount must be a decimal integer",
		})
		return
	}

	id, err := h.escrowService.CreateTask(c.Request.Context(), common.HexToAddress(req.Agent), token, amount, req.Description)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.CreateTaskResponse{
		Success: true,
		TaskID:  uint64(id),
		Message: "Task created and funds locked",
	})
}

// CompleteTask handles the agent's result submission
func (h *TaskHandler) CompleteTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	var req models.CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format: " + err.Error(),
		})
		return
	}

	if err := h.escrowService.CompleteTask(c.Request.Context(), id, req.Result); err != nil {
		c.JSON(statusForError(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Result submitted",
	})
}

// ApproveTask handles the creator's manual payment release
func (h *TaskHandler) ApproveTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	if err := h.escrowService.ApproveTask(c.Request.Context(), id); err != nil {
		c.JSON(statusForError(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Payment released to agent",
	})
}

// GetTask handles single task reads
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.escrowService.GetTask(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    models.NewTaskView(task),
	})
}

// GetTaskWindow handles cached recent-task reads. Read failures show up
// as an empty window, never as an error response.
func (h *TaskHandler) GetTaskWindow(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		address = h.escrowService.Account().Hex()
	}
	if !models.ValidHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "address must be a valid address",
		})
		return
	}

	role := models.Role(c.DefaultQuery("role", string(models.RoleClient)))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "role must be one of: client, agent",
		})
		return
	}

	tasks := h.escrowService.TaskWindow(c.Request.Context(), common.HexToAddress(address), role)

	views := make([]*models.TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, models.NewTaskView(task))
	}

	c.JSON(http.StatusOK, models.TaskWindowResponse{
		Success: true,
		Tasks:   views,
		Count:   len(views),
	})
}

// GetAllowance handles cached ERC-20 allowance reads
func (h *TaskHandler) GetAllowance(c *gin.Context) {
	token := c.Query("token")
	owner := c.Query("owner")
	spender := c.Query("spender")

	for name, value := range map[string]string{"token": token, "owner": owner, "spender": spender} {
		if !models.ValidHexAddress(value) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   name + " must be a valid address",
			})
			return
		}
	}

	allowance, err := h.escrowService.Allowance(c.Request.Context(),
		common.HexToAddress(token), common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.AllowanceResponse{
		Success:   true,
		Owner:     owner,
		Spender:   spender,
		Token:     token,
		Allowance: allowance.String(),
	})
}

func taskIDParam(c *gin.Context) (escrow.TaskID, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "task ID must be a non-negative integer",
		})
		return 0, false
	}
	return escrow.TaskID(id), true
}

// statusForError maps typed ledger rejections onto HTTP statuses so the
// UI can show an actionable message.
func statusForError(err error) int {
	switch {
	case errors.Is(err, escrow.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
