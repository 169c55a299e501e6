// Package loop provides a single serial execution context. Tasks posted to a
// Loop run one at a time, in posting order, on one goroutine.
package loop

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const DefaultSize = 256

type Loop struct {
	log *zap.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	done   chan struct{}
}

func New(log *zap.Logger, size int) *Loop {
	if size <= 0 {
		size = DefaultSize
	}

	l := &Loop{
		log:   log,
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues f. It blocks while the queue is full and returns false once the
// loop has been stopped.
//
// Post must not be called from a task when the queue may be full.
func (l *Loop) Post(f func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return false
	}

	l.tasks <- f
	return true
}

// Sync waits until every task posted before the call has run. It must not be
// called from a task.
func (l *Loop) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !l.Post(func() { close(reached) }) {
		select {
		case <-l.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop runs the remaining tasks and terminates the loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.tasks)
	}
	l.mu.Unlock()

	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for task := range l.tasks {
		l.exec(task)
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Recovered from panic in loop task", zap.Any("panic", r))
		}
	}()

	task()
}
