package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tasks runs fire-and-forget work (reaction handlers, post-add checks)
// under the bot's lifecycle context. Every task is logged on failure,
// recovered on panic and awaited on shutdown.
type Tasks struct {
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewTasks creates a runner bound to ctx.
func NewTasks(ctx context.Context, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{ctx: ctx, logger: logger}
}

// Go runs fn in a new goroutine.
func (t *Tasks) Go(name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		start := time.Now()
		err := t.run(fn)
		if err != nil {
			t.logger.Error("task: failed", "task", name, "error", err, "duration", time.Since(start))
			return
		}
		t.logger.Debug("task: done", "task", name, "duration", time.Since(start))
	}()
}

func (t *Tasks) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(t.ctx)
}

// Wait blocks until every started task has returned.
func (t *Tasks) Wait() { t.wg.Wait() }
