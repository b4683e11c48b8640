package services

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/pkg/wallet"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

// EscrowService handles escrow business logic for the connected wallet
// session: state-changing calls go to the ledger under the session's
// authority, reads go through the synchronization layer, and every
// successful write invalidates the task cache scope so the session sees
// its own writes immediately.
type EscrowService struct {
	ledger   escrow.Ledger
	cache    *TaskCacheService
	session  *wallet.Session
	approval *ApprovalService
}

// NewEscrowService creates a new escrow service.
func NewEscrowService(ledger escrow.Ledger, cache *TaskCacheService, session *wallet.Session, approval *ApprovalService) *EscrowService {
	return &EscrowService{
		ledger:   ledger,
		cache:    cache,
		session:  session,
		approval: approval,
	}
}

// Account returns the session address all writes are signed with.
func (es *EscrowService) Account() common.Address {
	return es.session.Account()
}

// CreateTask escrows amount for a new task.
func (es *EscrowService) CreateTask(ctx context.Context, agent, token common.Address, amount *big.Int, description string) (escrow.TaskID, error) {
	id, err := es.ledger.CreateTask(ctx, es.session.Account(), agent, token, amount, description)
	if err != nil {
		return 0, err
	}

	es.cache.InvalidateTasks()
	return id, nil
}

// CompleteTask submits the agent's result, then kicks off evaluation in
// the background. The evaluation can only release payment when this
// session is the task's creator; otherwise the task stays SUBMITTED for
// the creator's review.
func (es *EscrowService) CompleteTask(ctx context.Context, id escrow.TaskID, result string) error {
	if err := es.ledger.CompleteTask(ctx, es.session.Account(), id, result); err != nil {
		return err
	}

	es.cache.InvalidateTasks()

	go func() {
		evalCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, _, err := es.approval.EvaluateAndMaybeApprove(evalCtx, id); err != nil {
			log.Printf("Post-submit evaluation for task %d: %v", id, err)
		}
	}()

	return nil
}

// ApproveTask releases the escrowed amount to the agent. Manual path;
// the ledger enforces that only the creator can do this.
func (es *EscrowService) ApproveTask(ctx context.Context, id escrow.TaskID) error {
	if err := es.ledger.ApproveTask(ctx, es.session.Account(), id); err != nil {
		return err
	}

	es.cache.InvalidateTasks()
	return nil
}

// GetTask reads a single task directly from the ledger.
func (es *EscrowService) GetTask(ctx context.Context, id escrow.TaskID) (*escrow.Task, error) {
	return es.ledger.GetTask(ctx, id)
}

// TaskWindow returns the cached recent-task window for an address/role.
func (es *EscrowService) TaskWindow(ctx context.Context, address common.Address, role models.Role) []*escrow.Task {
	return es.cache.FetchTaskWindow(ctx, address, role)
}

// Allowance returns the cached escrow allowance for owner on token.
func (es *EscrowService) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return es.cache.CheckAllowance(ctx, token, owner, spender)
}
