package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Task names.
const (
	SendEmail    = "send_email"
	Log          = "log"
	WeeklyDigest = "weekly_digest"
)

// ErrUnknownTask is returned for tasks with no registered handler; they are never retried.
var ErrUnknownTask = errors.New("unknown task")

// Task is the unit of work placed on the queue.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler executes one task.
type Handler func(ctx context.Context, args json.RawMessage) error

// Enqueuer hands tasks to whatever executes them.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

// RetryPolicy bounds how often and how fast a failed task is retried.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register installs h for name, replacing any previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Run executes t with its registered handler.
func (r *Registry) Run(ctx context.Context, t Task) error {
	r.mu.RLock()
	h, ok := r.handlers[t.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, t.Name)
	}
	return h(ctx, t.Args)
}

func newTask(id, name string, args any, now time.Time) (Task, error) {
	t := Task{ID: id, Name: name, EnqueuedAt: now}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return t, fmt.Errorf("encode %s args: %w", name, err)
		}
		t.Args = raw
	}
	return t, nil
}
