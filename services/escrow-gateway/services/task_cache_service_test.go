package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

var (
	clientAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	agentA     = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenAddr  = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	escrowAddr = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
)

// countingLedger wraps a MemoryLedger recording read traffic, with an
// optional gate to hold reads open so tests can force overlap.
type countingLedger struct {
	*escrow.MemoryLedger
	nextCalls int64
	getCalls  int64
	nextErr   error
	gate      chan struct{}
}

func newCountingLedger(t *testing.T, taskCount int) *countingLedger {
	t.Helper()
	inner := escrow.NewMemoryLedger()
	inner.Fund(clientAddr, tokenAddr, big.NewInt(1_000_000))
	for i := 0; i < taskCount; i++ {
		_, err := inner.CreateTask(context.Background(), clientAddr, agentA, tokenAddr, big.NewInt(10), "task")
		require.NoError(t, err)
	}
	return &countingLedger{MemoryLedger: inner}
}

func (l *countingLedger) NextTaskID(ctx context.Context) (escrow.TaskID, error) {
	atomic.AddInt64(&l.nextCalls, 1)
	if l.nextErr != nil {
		return 0, l.nextErr
	}
	if l.gate != nil {
		<-l.gate
	}
	return l.MemoryLedger.NextTaskID(ctx)
}

func (l *countingLedger) GetTask(ctx context.Context, id escrow.TaskID) (*escrow.Task, error) {
	atomic.AddInt64(&l.getCalls, 1)
	return l.MemoryLedger.GetTask(ctx, id)
}

type staticAllowance struct {
	value *big.Int
	err   error
	calls int64
}

func (a *staticAllowance) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	atomic.AddInt64(&a.calls, 1)
	if a.err != nil {
		return nil, a.err
	}
	return new(big.Int).Set(a.value), nil
}

func newCacheService(ledger escrow.Ledger, allowances AllowanceReader) *TaskCacheService {
	return NewTaskCacheService(ledger, allowances, 30*time.Second, 20, 5*time.Second)
}

func TestFetchTaskWindowCanonicalOrder(t *testing.T) {
	ledger := newCountingLedger(t, 5)
	svc := newCacheService(ledger, nil)

	tasks := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	require.Len(t, tasks, 5)

	for i := 1; i < len(tasks); i++ {
		assert.Greater(t, uint64(tasks[i-1].ID), uint64(tasks[i].ID), "window must be in descending id order")
	}
}

func TestFetchTaskWindowFiltersByRole(t *testing.T) {
	ledger := newCountingLedger(t, 3)
	svc := newCacheService(ledger, nil)

	asClient := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Len(t, asClient, 3)

	asAgent := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleAgent)
	assert.Empty(t, asAgent)

	agentTasks := svc.FetchTaskWindow(context.Background(), agentA, models.RoleAgent)
	assert.Len(t, agentTasks, 3)
}

func TestFetchTaskWindowBoundedByWindowSize(t *testing.T) {
	ledger := newCountingLedger(t, 30)
	svc := NewTaskCacheService(ledger, nil, 30*time.Second, 20, 5*time.Second)

	tasks := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	require.Len(t, tasks, 20)
	assert.Equal(t, escrow.TaskID(29), tasks[0].ID)
	assert.Equal(t, escrow.TaskID(10), tasks[19].ID)
}

func TestFetchTaskWindowCacheHitSkipsLedger(t *testing.T) {
	ledger := newCountingLedger(t, 3)
	svc := newCacheService(ledger, nil)

	first := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	countAfterFirst := atomic.LoadInt64(&ledger.nextCalls)

	second := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Equal(t, countAfterFirst, atomic.LoadInt64(&ledger.nextCalls), "cache hit must not touch the ledger")
	assert.Equal(t, first, second)
}

func TestFetchTaskWindowExpiresAfterTTL(t *testing.T) {
	ledger := newCountingLedger(t, 3)
	svc := newCacheService(ledger, nil)

	current := time.Now()
	svc.now = func() time.Time { return current }

	svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	require.Equal(t, int64(1), atomic.LoadInt64(&ledger.nextCalls))

	// Inside the TTL: served from cache.
	current = current.Add(29 * time.Second)
	svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Equal(t, int64(1), atomic.LoadInt64(&ledger.nextCalls))

	// Past the TTL: fresh ledger access.
	current = current.Add(2 * time.Second)
	svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Equal(t, int64(2), atomic.LoadInt64(&ledger.nextCalls))
}

func TestFetchTaskWindowCoalescesConcurrentCalls(t *testing.T) {
	ledger := newCountingLedger(t, 4)
	ledger.gate = make(chan struct{})
	svc := newCacheService(ledger, nil)

	var wg sync.WaitGroup
	results := make([][]*escrow.Task, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
		}(i)
	}

	// Let both callers reach the in-flight fetch, then release it.
	time.Sleep(100 * time.Millisecond)
	close(ledger.gate)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ledger.nextCalls), "overlapping calls must share one read sequence")
	require.Len(t, results[0], 4)
	assert.Equal(t, results[0], results[1])
}

func TestFetchTaskWindowCountFailureReturnsEmpty(t *testing.T) {
	ledger := newCountingLedger(t, 3)
	ledger.nextErr = errors.New("rpc unreachable")
	svc := newCacheService(ledger, nil)

	tasks := svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Empty(t, tasks)

	// The failure is not cached: the next call tries the ledger again.
	ledger.nextErr = nil
	tasks = svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Len(t, tasks, 3)
}

func TestInvalidateScope(t *testing.T) {
	ledger := newCountingLedger(t, 2)
	allowances := &staticAllowance{value: big.NewInt(500)}
	svc := newCacheService(ledger, allowances)

	svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	_, err := svc.CheckAllowance(context.Background(), tokenAddr, clientAddr, escrowAddr)
	require.NoError(t, err)

	svc.InvalidateTasks()

	// Task scope dropped, allowance scope untouched.
	svc.FetchTaskWindow(context.Background(), clientAddr, models.RoleClient)
	assert.Equal(t, int64(2), atomic.LoadInt64(&ledger.nextCalls))

	_, err = svc.CheckAllowance(context.Background(), tokenAddr, clientAddr, escrowAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&allowances.calls))

	// Full invalidation clears everything.
	svc.Invalidate("")
	_, err = svc.CheckAllowance(context.Background(), tokenAddr, clientAddr, escrowAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&allowances.calls))
}

func TestCheckAllowanceCachesIndependently(t *testing.T) {
	ledger := newCountingLedger(t, 0)
	allowances := &staticAllowance{value: big.NewInt(123)}
	svc := newCacheService(ledger, allowances)

	got, err := svc.CheckAllowance(context.Background(), tokenAddr, clientAddr, escrowAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123), got)

	_, err = svc.CheckAllowance(context.Background(), tokenAddr, clientAddr, escrowAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&allowances.calls))
}

func TestCheckAllowancePropagatesError(t *testing.T) {
	ledger := newCountingLedger(t, 0)
	allowances := &staticAllowance{err: errors.New("token unreachable")}
	svc := newCacheService(ledger, allowances)

	_, err := svc.CheckAllowance(context.Background(), tokenAddr, clientAddr, escrowAddr)
	assert.Error(t, err)
}
