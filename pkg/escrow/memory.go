package escrow

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// balanceKey identifies a token balance slot.
type balanceKey struct {
	token  common.Address
	holder common.Address
}

// custodyAccount is the synthetic address holding locked funds, the
// in-process equivalent of the contract's own balance.
var custodyAccount = common.HexToAddress("0x00000000000000000000000000000000000e5c10")

// MemoryLedger is an in-process Ledger with custody accounting. It backs
// local development and tests; the gateway swaps it for the chain-backed
// ledger in production.
type MemoryLedger struct {
	mu       sync.Mutex
	tasks    []*Task
	balances map[balanceKey]*big.Int
	watchers []chan TaskID
	now      func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[balanceKey]*big.Int),
		now:      time.Now,
	}
}

// Fund credits holder with amount of token. Test and local-dev seeding.
func (l *MemoryLedger) Fund(holder, token common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, holder, amount)
}

// BalanceOf returns holder's balance of token.
func (l *MemoryLedger) BalanceOf(holder, token common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, holder))
}

// CustodyBalance returns the amount of token currently locked in escrow.
func (l *MemoryLedger) CustodyBalance(token common.Address) *big.Int {
	return l.BalanceOf(custodyAccount, token)
}

// NextTaskID returns the id the next task will receive.
func (l *MemoryLedger) NextTaskID(ctx context.Context) (TaskID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return TaskID(len(l.tasks)), nil
}

// GetTask returns a copy of the task with the given id.
func (l *MemoryLedger) GetTask(ctx context.Context, id TaskID) (*Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(id) >= len(l.tasks) {
		return nil, ErrTaskNotFound
	}
	return l.tasks[id].Clone(), nil
}

// CreateTask locks amount from caller and opens a new task.
func (l *MemoryLedger) CreateTask(ctx context.Context, caller, agent, token common.Address, amount *big.Int, description string) (TaskID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Transfer-in before any state is recorded, so a failed transfer
	// locks nothing.
	if err := l.transfer(token, caller, custodyAccount, amount); err != nil {
		return 0, err
	}

	task := &Task{
		ID:          TaskID(len(l.tasks)),
		Creator:     caller,
		Agent:       agent,
		Token:       token,
		Amount:      new(big.Int).Set(amount),
		Description: description,
		Status:      StatusOpen,
		CreatedAt:   l.now(),
	}
	l.tasks = append(l.tasks, task)

	return task.ID, nil
}

// CompleteTask records the agent's result and moves OPEN -> SUBMITTED.
func (l *MemoryLedger) CompleteTask(ctx context.Context, caller common.Address, id TaskID, result string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if int(id) >= len(l.tasks) {
		return ErrTaskNotFound
	}
	task := l.tasks[id]

	if caller != task.Agent {
		return ErrUnauthorized
	}
	if task.Status != StatusOpen {
		return ErrInvalidState
	}

	task.Result = result
	task.Status = StatusSubmitted
	return nil
}

// ApproveTask moves SUBMITTED -> COMPLETED and pays the agent. The
// transition and the payout commit together or not at all.
func (l *MemoryLedger) ApproveTask(ctx context.Context, caller common.Address, id TaskID) error {
	l.mu.Lock()

	if int(id) >= len(l.tasks) {
		l.mu.Unlock()
		return ErrTaskNotFound
	}
	task := l.tasks[id]

	if caller != task.Creator {
		l.mu.Unlock()
		return ErrUnauthorized
	}
	if task.Status != StatusSubmitted {
		l.mu.Unlock()
		return ErrInvalidState
	}

	// Payout first: if custody cannot cover the amount the transition
	// must not commit.
	if err := l.transfer(task.Token, custodyAccount, task.Agent, task.Amount); err != nil {
		l.mu.Unlock()
		return err
	}
	task.Status = StatusCompleted

	watchers := make([]chan TaskID, len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()

	// Notify outside the lock; drop if a watcher is not keeping up.
	for _, ch := range watchers {
		select {
		case ch <- id:
		default:
		}
	}
	return nil
}

// WatchCompleted returns a channel receiving ids of tasks as they reach
// COMPLETED. The channel closes when ctx is cancelled.
func (l *MemoryLedger) WatchCompleted(ctx context.Context) (<-chan TaskID, error) {
	ch := make(chan TaskID, 16)

	l.mu.Lock()
	l.watchers = append(l.watchers, ch)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		for i, w := range l.watchers {
			if w == ch {
				l.watchers = append(l.watchers[:i], l.watchers[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// balance returns the live balance slot for token/holder, zero if unset.
// Callers must hold l.mu.
func (l *MemoryLedger) balance(token, holder common.Address) *big.Int {
	if b, ok := l.balances[balanceKey{token, holder}]; ok {
		return b
	}
	return new(big.Int)
}

func (l *MemoryLedger) credit(token, holder common.Address, amount *big.Int) {
	key := balanceKey{token, holder}
	b, ok := l.balances[key]
	if !ok {
		b = new(big.Int)
		l.balances[key] = b
	}
	b.Add(b, amount)
}

func (l *MemoryLedger) transfer(token, from, to common.Address, amount *big.Int) error {
	b := l.balance(token, from)
	if b.Cmp(amount) < 0 {
		return ErrTransferFailed
	}
	l.balances[balanceKey{token, from}] = new(big.Int).Sub(b, amount)
	l.credit(token, to, amount)
	return nil
}
