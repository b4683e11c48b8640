package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
)

// Role distinguishes which side of a task an address is on.
type Role string

const (
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAgent
}

// TaskView is the JSON representation of a ledger task. Amounts are
// decimal strings so precision survives the trip through JavaScript.
type TaskView struct {
	ID          uint64    `json:"id"`
	Creator     string    `json:"creator"`
	Agent       string    `json:"agent"`
	Token       string    `json:"token,omitempty"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTaskView converts a ledger task into its API representation.
func NewTaskView(task *escrow.Task) *TaskView {
	view := &TaskView{
		ID:          uint64(task.ID),
		Creator:     task.Creator.Hex(),
		Agent:       task.Agent.Hex(),
		Description: task.Description,
		Status:      string(task.Status),
		Result:      task.Result,
		CreatedAt:   task.CreatedAt,
	}
	if task.Token != escrow.NativeToken {
		view.Token = task.Token.Hex()
	}
	if task.Amount != nil {
		view.Amount = task.Amount.String()
	}
	return view
}

// CreateTaskRequest funds a new task. Token empty means native asset.
type CreateTaskRequest struct {
	Agent       string `json:"agent" binding:"required"`
	Token       string `json:"token"`
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// ParsedAmount returns the request amount as a big integer, or false if
// it is not a valid decimal.
func (r *CreateTaskRequest) ParsedAmount() (*big.Int, bool) {
	return new(big.Int).SetString(r.Amount, 10)
}

// CompleteTaskRequest carries the agent's deliverable.
type CompleteTaskRequest struct {
	Result string `json:"result" binding:"required"`
}

// CreateTaskResponse reports the assigned task id.
type CreateTaskResponse struct {
	Success bool   `json:"success"`
	TaskID  uint64 `json:"task_id"`
	Message string `json:"message,omitempty"`
}

// TaskWindowResponse is the cached read-path payload.
type TaskWindowResponse struct {
	Success bool        `json:"success"`
	Tasks   []*TaskView `json:"tasks"`
	Count   int         `json:"count"`
}

// AllowanceResponse reports an ERC-20 allowance.
type AllowanceResponse struct {
	Success   bool   `json:"success"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Token     string `json:"token"`
	Allowance string `json:"allowance"`
}

// Notification tells the UI a task reached COMPLETED.
type Notification struct {
	TaskID    uint64    `json:"task_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents a generic error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ValidHexAddress reports whether s parses as a 20-byte hex address.
func ValidHexAddress(s string) bool {
	return common.IsHexAddress(s)
}
