package command

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command is one reconfiguration request.
type Command struct {
	ID       string
	Source   string
	Received time.Time
	Params   map[string]any
}

// NewCommand stamps params with an ID and the receive time.
func NewCommand(source string, params map[string]any) Command {
	return Command{
		ID:       uuid.NewString(),
		Source:   source,
		Received: time.Now(),
		Params:   params,
	}
}

// Queue is an unbounded FIFO of commands safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	items  []Command
	closed bool

	totalPushed  int64
	totalDrained int64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a command. It returns false once the queue is closed.
func (q *Queue) Push(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, c)
	q.totalPushed++
	return true
}

// Drain removes and returns every queued command in arrival order.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	q.totalDrained += int64(len(out))
	return out
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether no command is queued.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Close rejects further pushes. Queued commands can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// QueueStats contains queue counters.
type QueueStats struct {
	Queued       int   `json:"queued"`
	TotalPushed  int64 `json:"totalPushed"`
	TotalDrained int64 `json:"totalDrained"`
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Queued: len(q.items), TotalPushed: q.totalPushed, TotalDrained: q.totalDrained}
}
