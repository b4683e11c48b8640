package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
)

// maxPendingNotifications bounds the notification buffer; oldest entries
// are dropped first when the UI stops draining.
const maxPendingNotifications = 64

// EventService watches the ledger for completed tasks, invalidates the
// task cache scope so the next window fetch sees the new status, and
// buffers notifications for the UI to drain.
type EventService struct {
	watcher escrow.Watcher
	cache   *TaskCacheService

	mu      sync.Mutex
	pending []models.Notification

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventService creates a new event service.
func NewEventService(watcher escrow.Watcher, cache *TaskCacheService) *EventService {
	return &EventService{
		watcher: watcher,
		cache:   cache,
	}
}

// Start begins watching for completed tasks.
func (ev *EventService) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)

	completed, err := ev.watcher.WatchCompleted(watchCtx)
	if err != nil {
		cancel()
		return err
	}

	ev.cancel = cancel
	ev.done = make(chan struct{})

	go func() {
		defer close(ev.done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case id, ok := <-completed:
				if !ok {
					return
				}
				ev.handleCompleted(id)
			}
		}
	}()

	log.Println("Task completion watcher started")
	return nil
}

// Stop halts the watcher and waits for it to drain.
func (ev *EventService) Stop() {
	if ev.cancel == nil {
		return
	}
	ev.cancel()
	<-ev.done
}

// Drain returns and clears the buffered notifications, oldest first.
func (ev *EventService) Drain() []models.Notification {
	ev.mu.Lock()
	defer ev.mu.Unlock()

	pending := ev.pending
	ev.pending = nil
	return pending
}

func (ev *EventService) handleCompleted(id escrow.TaskID) {
	ev.cache.InvalidateTasks()

	ev.mu.Lock()
	defer ev.mu.Unlock()

	ev.pending = append(ev.pending, models.Notification{
		TaskID:    uint64(id),
		Status:    string(escrow.StatusCompleted),
		Timestamp: time.Now(),
	})
	if len(ev.pending) > maxPendingNotifications {
		ev.pending = ev.pending[len(ev.pending)-maxPendingNotifications:]
	}
}
