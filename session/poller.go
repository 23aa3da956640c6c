package session

import (
	"context"
	"sync"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"go.uber.org/zap"
)

// MergeSlot folds one remote media slot into the local one and reports whether the
// local slot changed. A local in-progress mark survives a remote that has not caught
// up yet; anything else adopts the remote values when they differ.
func MergeSlot(local, remote models.MediaSlot) bool {
	if local.InProgress() {
		switch {
		case *remote.URL != "" && *remote.URL != *local.URL:
			*local.URL = *remote.URL
			*local.Status = local.Done
			*local.Error = ""
			return true
		case *remote.Error != "" && *remote.Error != *local.Error:
			*local.Status = local.Failed
			*local.Error = *remote.Error
			return true
		case *remote.Status == remote.Done:
			*local.URL, *local.Status, *local.Error = *remote.URL, *remote.Status, *remote.Error
			return true
		}
		return false
	}
	if *local.URL == *remote.URL && *local.Status == *remote.Status && *local.Error == *remote.Error {
		return false
	}
	*local.URL, *local.Status, *local.Error = *remote.URL, *remote.Status, *remote.Error
	return true
}

// mergeCollection merges the remote collection of kind into local. Slots for which
// skip reports true are left as they are.
func mergeCollection(local, remote *models.ProjectSnapshot, kind models.EntityKind, skip func(id int64, slot string) bool) (changed []int64) {
	remoteSlots := remote.Slots(kind)
	for id, slots := range local.Slots(kind) {
		rs, ok := remoteSlots[id]
		if !ok {
			continue
		}
		touched := false
		for _, sl := range slots {
			r, ok := slotByName(rs, sl.Name)
			if !ok || (skip != nil && skip(id, sl.Name)) {
				continue
			}
			touched = MergeSlot(sl, r) || touched
		}
		if touched {
			changed = append(changed, id)
		}
	}
	return changed
}

func inProgress(s *models.ProjectSnapshot, kind models.EntityKind) bool {
	for _, slots := range s.Slots(kind) {
		for _, sl := range slots {
			if sl.InProgress() {
				return true
			}
		}
	}
	return false
}

// Poller reconciles in-progress generation state with the remote. Each collection is
// independently quiescent or polling; a collection polls while any of its entities
// has an in-progress slot.
type Poller struct {
	ctx       context.Context
	remote    Remote
	store     *Store
	projectID int64
	interval  time.Duration
	// timeout bounds one polling run; zero or negative polls until the collection settles.
	timeout time.Duration
	logger  *zap.Logger
	notify  Notifier

	mu      sync.Mutex
	loops   map[models.EntityKind]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
	fetches int64
	submits map[slotRef]submitMark
}

type slotRef struct {
	kind models.EntityKind
	id   int64
	slot string
}

// submitMark tracks a generation request. A poll response is only trusted for the
// slot when its fetch started after the request was acknowledged.
type submitMark struct {
	inflight bool
	acked    time.Time
}

func newPoller(ctx context.Context, remote Remote, store *Store, projectID int64, interval, timeout time.Duration, logger *zap.Logger, notify Notifier) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		ctx:       ctx,
		remote:    remote,
		store:     store,
		projectID: projectID,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.Named("poller"),
		notify:    notify,
		loops:     map[models.EntityKind]context.CancelFunc{},
		submits:   map[slotRef]submitMark{},
	}
}

// beginSubmit marks a generation request for one slot as in flight. The returned
// func records its acknowledgement; fetches started earlier never merge the slot.
func (p *Poller) beginSubmit(kind models.EntityKind, id int64, slot string) (acked func()) {
	ref := slotRef{kind: kind, id: id, slot: slot}
	p.mu.Lock()
	p.submits[ref] = submitMark{inflight: true}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.submits[ref] = submitMark{acked: time.Now()}
		p.mu.Unlock()
	}
}

// staleFor returns the skip func for a fetch of kind started at start, and drops the
// marks that fetch supersedes.
func (p *Poller) staleFor(kind models.EntityKind, start time.Time) func(id int64, slot string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	stale := map[slotRef]bool{}
	for ref, m := range p.submits {
		if ref.kind != kind {
			continue
		}
		if m.inflight || !m.acked.Before(start) {
			stale[ref] = true
			continue
		}
		delete(p.submits, ref)
	}
	if len(stale) == 0 {
		return nil
	}
	return func(id int64, slot string) bool {
		return stale[slotRef{kind: kind, id: id, slot: slot}]
	}
}

// Kick starts polling every collection that has in-progress entities and is not
// already polling.
func (p *Poller) Kick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	var busy []models.EntityKind
	p.store.View(func(s *models.ProjectSnapshot) {
		for _, kind := range models.AllKinds {
			if _, running := p.loops[kind]; !running && inProgress(s, kind) {
				busy = append(busy, kind)
			}
		}
	})
	for _, kind := range busy {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if p.timeout > 0 {
			ctx, cancel = context.WithTimeout(p.ctx, p.timeout)
		} else {
			ctx, cancel = context.WithCancel(p.ctx)
		}
		p.loops[kind] = cancel
		p.wg.Add(1)
		go p.run(ctx, cancel, kind)
	}
}

// Polling reports whether kind is currently polling.
func (p *Poller) Polling(kind models.EntityKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[kind]
	return ok
}

// Fetches returns how many remote snapshots have been requested.
func (p *Poller) Fetches() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Stop cancels every loop and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	for _, cancel := range p.loops {
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, kind models.EntityKind) {
	defer p.wg.Done()
	defer cancel()
	log := p.logger.With(zap.String("kind", string(kind)))
	log.Debug("polling started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				log.Warn("polling timed out with jobs still in progress", zap.Duration("timeout", p.timeout))
				p.notify.Warn("generation is taking unusually long; status updates paused")
			}
			p.release(kind)
			return
		case <-ticker.C:
		}
		if p.settle(kind) {
			log.Debug("polling stopped, no job in progress")
			return
		}
		p.tick(ctx, kind, log)
		if p.settle(kind) {
			log.Debug("polling stopped, no job in progress")
			return
		}
	}
}

// settle releases the loop of kind when nothing in it is in progress any more. The
// check and the release share the lock Kick holds, so a job marked in between is
// always picked up by either this loop or a new one.
func (p *Poller) settle(kind models.EntityKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy := false
	p.store.View(func(s *models.ProjectSnapshot) { busy = inProgress(s, kind) })
	if busy {
		return false
	}
	delete(p.loops, kind)
	return true
}

func (p *Poller) release(kind models.EntityKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loops, kind)
}

func (p *Poller) tick(ctx context.Context, kind models.EntityKind, log *zap.Logger) {
	p.mu.Lock()
	p.fetches++
	p.mu.Unlock()

	start := time.Now()
	remote, err := p.remote.GetProject(ctx, p.projectID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("poll failed, retrying next tick", zap.Error(err))
		}
		return
	}
	remote.Normalize()

	skip := p.staleFor(kind, start)
	var changed []int64
	_ = p.store.Mutate(func(s *models.ProjectSnapshot) error {
		changed = mergeCollection(s, remote, kind, skip)
		return nil
	})
	if len(changed) > 0 {
		log.Info("merged remote status", zap.Int64s("ids", changed))
	}
}
