package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the authoritative task store. Implementations are the
// on-chain escrow contract (via ChainLedger in the gateway) and the
// in-process MemoryLedger. State-changing calls take the caller address
// explicitly; authorization is enforced by the ledger, not the caller.
type Ledger interface {
	// NextTaskID returns the id the next created task will receive,
	// which equals the total number of tasks ever created.
	NextTaskID(ctx context.Context) (TaskID, error)

	// GetTask returns the task with the given id, or ErrTaskNotFound.
	GetTask(ctx context.Context, id TaskID) (*Task, error)

	// CreateTask locks amount of token from caller's funds and opens a
	// new task. Token == NativeToken denotes the native asset. For
	// ERC-20 tasks the caller must have approved the escrow for amount
	// beforehand; a failed transfer-in fails with ErrTransferFailed.
	CreateTask(ctx context.Context, caller, agent, token common.Address, amount *big.Int, description string) (TaskID, error)

	// CompleteTask records the agent's result and moves the task from
	// OPEN to SUBMITTED. Only the task's agent may call it.
	CompleteTask(ctx context.Context, caller common.Address, id TaskID, result string) error

	// ApproveTask moves the task from SUBMITTED to COMPLETED and
	// releases the locked amount to the agent, atomically. Only the
	// task's creator may call it.
	ApproveTask(ctx context.Context, caller common.Address, id TaskID) error
}

// Watcher is implemented by ledgers that can push completed-task
// notifications. The returned channel closes when ctx is cancelled.
type Watcher interface {
	WatchCompleted(ctx context.Context) (<-chan TaskID, error)
}
