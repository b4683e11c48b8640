package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

// AllowanceReader reads how much of token the escrow contract may move
// on owner's behalf.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

type cacheEntry struct {
	value     interface{}
	timestamp time.Time
}

// TaskCacheService is the client synchronization layer: it mirrors
// ledger state behind a short-lived cache and guarantees that a burst of
// concurrent requests for the same data issues at most one underlying
// ledger read sequence.
type TaskCacheService struct {
	ledger       escrow.Ledger
	allowances   AllowanceReader
	ttl          time.Duration
	windowSize   int
	fetchTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewTaskCacheService creates the synchronization layer over a ledger.
func NewTaskCacheService(ledger escrow.Ledger, allowances AllowanceReader, ttl time.Duration, windowSize int, fetchTimeout time.Duration) *TaskCacheService {
	return &TaskCacheService{
		ledger:       ledger,
		allowances:   allowances,
		ttl:          ttl,
		windowSize:   windowSize,
		fetchTimeout: fetchTimeout,
		entries:      make(map[string]cacheEntry),
		now:          time.Now,
	}
}

// FetchTaskWindow returns the most recent tasks where address plays the
// given role, newest first. Cache hits under the TTL return immediately
// with no ledger access; overlapping misses for the same key coalesce
// into one fetch. A failed count read yields an empty window with the
// error logged, never an error to the caller; individual task reads that
// fail are dropped from the window.
func (s *TaskCacheService) FetchTaskWindow(ctx context.Context, address common.Address, role models.Role) []*escrow.Task {
	key := taskWindowKey(address, role)

	if cached, ok := s.lookup(key); ok {
		return cached.([]*escrow.Task)
	}

	result, _, _ := s.group.Do(key, func() (interface{}, error) {
		tasks := s.fetchWindow(address, role)
		if tasks == nil {
			// Count read failed; do not cache the empty answer.
			return []*escrow.Task{}, nil
		}
		s.store(key, tasks)
		return tasks, nil
	})

	return result.([]*escrow.Task)
}

// CheckAllowance returns the escrow allowance for owner on token, under
// the same cache-or-fetch discipline with its own key space.
func (s *TaskCacheService) CheckAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	key := allowanceKey(token, owner, spender)

	if cached, ok := s.lookup(key); ok {
		return new(big.Int).Set(cached.(*big.Int)), nil
	}

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()

		allowance, err := s.allowances.Allowance(fetchCtx, token, owner, spender)
		if err != nil {
			return nil, err
		}
		s.store(key, allowance)
		return allowance, nil
	})
	if err != nil {
		return nil, err
	}

	return new(big.Int).Set(result.(*big.Int)), nil
}

// Invalidate drops every cached entry whose key starts with scope, or
// all entries when scope is empty. Wallet reconnect invalidates all;
// writes invalidate the task scope.
func (s *TaskCacheService) Invalidate(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == "" {
		s.entries = make(map[string]cacheEntry)
		return
	}
	for key := range s.entries {
		if strings.HasPrefix(key, scope) {
			delete(s.entries, key)
		}
	}
}

// InvalidateTasks drops all cached task windows. Called after every
// successful state-changing operation so the acting session sees its
// own writes.
func (s *TaskCacheService) InvalidateTasks() {
	s.Invalidate("tasks:")
}

// fetchWindow runs one full read sequence: the count read, then bounded
// parallel per-task reads over the window, reordered to canonical
// descending-id order. Runs under its own timeout so the fetch shared by
// coalesced callers does not die with the first caller's context.
func (s *TaskCacheService) fetchWindow(address common.Address, role models.Role) []*escrow.Task {
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()

	next, err := s.ledger.NextTaskID(ctx)
	if err != nil {
		log.Printf("Failed to read task count: %v", err)
		return nil
	}
	if next == 0 {
		return []*escrow.Task{}
	}

	low := escrow.TaskID(0)
	if uint64(next) > uint64(s.windowSize) {
		low = next - escrow.TaskID(s.windowSize)
	}

	var wg sync.WaitGroup
	tasks := make([]*escrow.Task, 0, int(next-low))
	taskMutex := sync.Mutex{}

	for id := low; id < next; id++ {
		wg.Add(1)
		go func(id escrow.TaskID) {
			defer wg.Done()

			task, err := s.ledger.GetTask(ctx, id)
			if err != nil {
				// Partial-result tolerance: drop the one read.
				log.Printf("Failed to read task %d: %v", id, err)
				return
			}
			if !relevant(task, address, role) {
				return
			}

			taskMutex.Lock()
			tasks = append(tasks, task)
			taskMutex.Unlock()
		}(id)
	}

	wg.Wait()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	return tasks
}

func (s *TaskCacheService) lookup(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	// An entry older than the TTL is treated as absent.
	if s.now().Sub(entry.timestamp) >= s.ttl {
		return nil, false
	}
	return entry.value, true
}

func (s *TaskCacheService) store(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{value: value, timestamp: s.now()}
}

func relevant(task *escrow.Task, address common.Address, role models.Role) bool {
	switch role {
	case models.RoleClient:
		return task.Creator == address
	case models.RoleAgent:
		return task.Agent == address
	}
	return false
}

func taskWindowKey(address common.Address, role models.Role) string {
	return fmt.Sprintf("tasks:%s:%s", strings.ToLower(address.Hex()), role)
}

func allowanceKey(token, owner, spender common.Address) string {
	return fmt.Sprintf("allowance:%s:%s:%s",
		strings.ToLower(token.Hex()), strings.ToLower(owner.Hex()), strings.ToLower(spender.Hex()))
}
