package agent

import (
	"context"
	"sync"
)

// TaskSet tracks fire-and-forget background work (memory writes) so shutdown
// can cancel and drain it instead of leaking goroutines.
type TaskSet struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTaskSet() *TaskSet {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskSet{ctx: ctx, cancel: cancel}
}

// Go runs fn in the background under the set's cancellable context.
func (t *TaskSet) Go(fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if t.ctx.Err() != nil {
			return
		}
		fn(t.ctx)
	}()
}

// Shutdown cancels outstanding tasks and waits for them to finish.
func (t *TaskSet) Shutdown() {
	t.cancel()
	t.wg.Wait()
}
