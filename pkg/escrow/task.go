package escrow

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TaskID identifies a task. IDs are assigned sequentially starting at 0.
type TaskID uint64

// Status represents the lifecycle state of a task
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusSubmitted Status = "SUBMITTED"
	StatusCompleted Status = "COMPLETED"
	StatusDisputed  Status = "DISPUTED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
// DISPUTED and CANCELLED are reserved for future dispute resolution and
// are terminal until that exists.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// StatusFromCode maps the on-chain uint8 status encoding to a Status.
func StatusFromCode(code uint8) Status {
	switch code {
	case 0:
		return StatusOpen
	case 1:
		return StatusSubmitted
	case 2:
		return StatusCompleted
	case 3:
		return StatusDisputed
	case 4:
		return StatusCancelled
	}
	return Status("UNKNOWN")
}

// Code returns the on-chain uint8 encoding of s.
func (s Status) Code() uint8 {
	switch s {
	case StatusOpen:
		return 0
	case StatusSubmitted:
		return 1
	case StatusCompleted:
		return 2
	case StatusDisputed:
		return 3
	case StatusCancelled:
		return 4
	}
	return 255
}

// NativeToken is the token value that denotes payment in the chain's
// native asset rather than an ERC-20.
var NativeToken = common.Address{}

// Task is the ledger-owned task record. Only Status and Result mutate
// after creation; Result is set exactly once, on submission.
type Task struct {
	ID          TaskID         `json:"id"`
	Creator     common.Address `json:"creator"`
	Agent       common.Address `json:"agent"`
	Token       common.Address `json:"token"`
	Amount      *big.Int       `json:"amount"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	Result      string         `json:"result"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate ledger state
// through a returned record.
func (t *Task) Clone() *Task {
	c := *t
	if t.Amount != nil {
		c.Amount = new(big.Int).Set(t.Amount)
	}
	return &c
}

// Typed failure reasons mirroring the contract's revert conditions.
var (
	ErrInvalidAmount  = errors.New("escrow: amount must be positive")
	ErrUnauthorized   = errors.New("escrow: caller not authorized")
	ErrInvalidState   = errors.New("escrow: invalid task state for operation")
	ErrTransferFailed = errors.New("escrow: token transfer failed")
	ErrTaskNotFound   = errors.New("escrow: task not found")
)
