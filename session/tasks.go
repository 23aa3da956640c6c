package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is the handle of a background write started by a session operation.
type Task struct {
	name string
	done chan struct{}
	err  error
}

func (t *Task) Name() string { return t.name }

// Done is closed once the task and its completion callback have finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's error once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// completedTask is returned by operations that had nothing to write.
func completedTask(name string) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	close(t.done)
	return t
}

// taskGroup runs background tasks under the session context.
type taskGroup struct {
	ctx    context.Context
	wg     sync.WaitGroup
	logger *zap.Logger
}

func (g *taskGroup) Go(name string, fn func(ctx context.Context) error, onDone func(error)) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(t.done)
		t.err = fn(g.ctx)
		if t.err != nil {
			g.logger.Debug("task failed", zap.String("task", name), zap.Error(t.err))
		}
		if onDone != nil {
			onDone(t.err)
		}
	}()
	return t
}

func (g *taskGroup) Wait() { g.wg.Wait() }
