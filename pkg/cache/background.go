package cache

import (
	"sync"

	"inkwell/pkg/logger"
)

// Background runs fire-and-forget side effects (cache writes, deletes)
// off the request's critical path. The contract is uniform: tasks must
// not block the response, and failures are logged and swallowed. Wait
// exists so shutdown and tests can drain in-flight tasks.
type Background struct {
	wg sync.WaitGroup
}

// NewBackground returns a registry backed by detached goroutines.
func NewBackground() *Background {
	return &Background{}
}

// Schedule runs fn on its own goroutine. Panics are recovered and
// logged; a misbehaving side effect must never take the process down.
func (b *Background) Schedule(name string, fn func() error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background_task_panic", "task", name, "panic", r)
			}
		}()
		if err := fn(); err != nil {
			logger.Warn("background_task_failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all scheduled tasks have finished.
func (b *Background) Wait() {
	b.wg.Wait()
}
