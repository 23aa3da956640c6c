package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Autosave coalesces bursts of edits into one delayed write per key. Each new edit
// resets the key's timer; a write never overlaps another write of the same key, and
// edits that arrive while one runs schedule a follow-up write.
type Autosave struct {
	ctx      context.Context
	debounce time.Duration
	logger   *zap.Logger
	onError  func(key string, err error)

	mu      sync.Mutex
	entries map[string]*debounced
	closed  bool
	wg      sync.WaitGroup
}

type debounced struct {
	timer   *time.Timer
	write   func(ctx context.Context) error
	pending bool
	running bool
}

func newAutosave(ctx context.Context, debounce time.Duration, logger *zap.Logger, onError func(string, error)) *Autosave {
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}
	return &Autosave{
		ctx:      ctx,
		debounce: debounce,
		logger:   logger.Named("autosave"),
		onError:  onError,
		entries:  map[string]*debounced{},
	}
}

// Schedule arms the timer for key, replacing any previously scheduled write.
func (a *Autosave) Schedule(key string, write func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	d := a.entries[key]
	if d == nil {
		d = &debounced{}
		a.entries[key] = d
	}
	d.write = write
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(a.debounce, func() { a.fire(key, false) })
		return
	}
	d.timer.Reset(a.debounce)
}

// Pending reports whether key has a write waiting for its timer.
func (a *Autosave) Pending(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.entries[key]
	return d != nil && d.pending
}

// fire runs the pending write of key. Once closed only Flush may run writes, so a
// timer that expires during or after Flush is a no-op.
func (a *Autosave) fire(key string, flushing bool) {
	a.mu.Lock()
	d := a.entries[key]
	if d == nil || (a.closed && !flushing) {
		a.mu.Unlock()
		return
	}
	if d.running {
		// 上一次写入仍在进行，稍后再触发
		if !a.closed {
			d.timer.Reset(a.debounce)
		}
		a.mu.Unlock()
		return
	}
	if !d.pending {
		a.mu.Unlock()
		return
	}
	d.pending = false
	d.running = true
	write := d.write
	a.wg.Add(1)
	a.mu.Unlock()

	err := write(a.ctx)
	if err != nil {
		a.logger.Warn("autosave failed", zap.String("key", key), zap.Error(err))
		if a.onError != nil {
			a.onError(key, err)
		}
	}

	a.mu.Lock()
	d.running = false
	if d.pending && !a.closed {
		d.timer.Reset(a.debounce)
	}
	a.mu.Unlock()
	a.wg.Done()
}

// Flush stops every timer and runs the pending writes now, waiting for those already
// running. No writes are accepted afterwards.
func (a *Autosave) Flush() {
	a.mu.Lock()
	a.closed = true
	var keys []string
	for key, d := range a.entries {
		if d.timer != nil {
			d.timer.Stop()
		}
		if d.pending {
			keys = append(keys, key)
		}
	}
	a.mu.Unlock()

	a.wg.Wait()
	for _, key := range keys {
		a.fire(key, true)
	}
	a.wg.Wait()
}
