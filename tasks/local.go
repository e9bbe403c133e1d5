package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalDispatcher runs tasks on goroutines inside the current process.
type LocalDispatcher struct {
	registry *Registry
	policy   RetryPolicy
	log      *zap.Logger
	wg       sync.WaitGroup
	sleep    func(time.Duration)
}

func NewLocalDispatcher(registry *Registry, policy RetryPolicy, log *zap.Logger) *LocalDispatcher {
	return &LocalDispatcher{registry: registry, policy: policy, log: log, sleep: time.Sleep}
}

// Enqueue schedules the task and returns immediately. The caller's context only
// bounds enqueueing; the task itself runs detached.
func (d *LocalDispatcher) Enqueue(ctx context.Context, name string, args any) (string, error) {
	t, err := newTask(uuid.NewString(), name, args, time.Now())
	if err != nil {
		return "", err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(t)
	}()
	return t.ID, nil
}

func (d *LocalDispatcher) run(t Task) {
	ctx := context.Background()
	for attempt := 1; ; attempt++ {
		err := d.registry.Run(ctx, t)
		if err == nil {
			return
		}
		if errors.Is(err, ErrUnknownTask) || attempt > d.policy.MaxRetries {
			d.log.Warn("task given up",
				zap.String("task", t.Name), zap.String("id", t.ID),
				zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		d.log.Info("task failed, retrying",
			zap.String("task", t.Name), zap.String("id", t.ID),
			zap.Int("attempt", attempt), zap.Duration("delay", d.policy.RetryDelay), zap.Error(err))
		d.sleep(d.policy.RetryDelay)
	}
}

// Wait blocks until every enqueued task finished or gave up.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
