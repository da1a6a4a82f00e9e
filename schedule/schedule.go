// Package schedule runs periodic background work that can be cancelled and
// waited for.
package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is a running periodic job.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type options struct {
	immediate bool
}

// Option tweaks Every.
type Option func(*options)

// Deferred skips the run at start; the first run happens after one interval.
func Deferred() Option {
	return func(o *options) { o.immediate = false }
}

// Every runs fn at start and then once per interval until parent is
// cancelled or Stop is called. Runs never overlap; a slow run delays the
// next tick instead of queueing more.
func Every(parent context.Context, name string, interval time.Duration, fn func(ctx context.Context), opts ...Option) *Task {
	o := options{immediate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if o.immediate {
			t.run(ctx, fn)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// a tick racing with cancellation must not run
				if ctx.Err() != nil {
					return
				}
				t.run(ctx, fn)
			}
		}
	}()
	return t
}

func (t *Task) run(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("schedule: task %s panicked: %v", t.name, p)
		}
	}()
	fn(ctx)
}

// Stop cancels the task and blocks until the current run, if any, returns.
// It is safe to call more than once.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
