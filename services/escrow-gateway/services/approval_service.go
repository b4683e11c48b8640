package services

import (
	"context"
	"log"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/pkg/wallet"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

// ApprovalService runs the evaluated-approval path. Auto-approval is
// not a privileged bypass: it is a programmatic invocation of the
// ordinary creator-authorized approval, so it only fires when the
// connected session's address is the task's creator.
type ApprovalService struct {
	ledger      escrow.Ledger
	cache       *TaskCacheService
	evaluations *EvaluationService
	session     *wallet.Session
	threshold   int
}

// NewApprovalService creates a new approval service. threshold is the
// minimum confidence (0..100) an auto-approving verdict must carry.
func NewApprovalService(ledger escrow.Ledger, cache *TaskCacheService, evaluations *EvaluationService, session *wallet.Session, threshold int) *ApprovalService {
	return &ApprovalService{
		ledger:      ledger,
		cache:       cache,
		evaluations: evaluations,
		session:     session,
		threshold:   threshold,
	}
}

// EvaluateAndMaybeApprove evaluates a SUBMITTED task's result and, when
// the verdict allows it and this session is the creator, releases
// payment through the normal approval path. A degraded (failed)
// evaluation carries AutoApprove=false, so it can never trigger a
// ledger write. Returns the verdict and whether payment was released.
func (as *ApprovalService) EvaluateAndMaybeApprove(ctx context.Context, id escrow.TaskID) (*models.Evaluation, bool, error) {
	task, err := as.ledger.GetTask(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if task.Status != escrow.StatusSubmitted {
		return nil, false, escrow.ErrInvalidState
	}

	evaluation := as.evaluations.Evaluate(ctx, task.Description, task.Result)

	if !as.shouldAutoApprove(evaluation) {
		return evaluation, false, nil
	}
	if as.session.Account() != task.Creator {
		// Only the creator's session may sign the release.
		log.Printf("Task %d auto-approvable but session is not the creator; leaving for manual review", id)
		return evaluation, false, nil
	}

	if err := as.ledger.ApproveTask(ctx, as.session.Account(), id); err != nil {
		return evaluation, false, err
	}

	as.cache.InvalidateTasks()
	log.Printf("Task %d auto-approved with confidence %d", id, evaluation.Confidence)
	return evaluation, true, nil
}

func (as *ApprovalService) shouldAutoApprove(evaluation *models.Evaluation) bool {
	return evaluation.Approved && evaluation.AutoApprove && evaluation.Confidence >= as.threshold
}
