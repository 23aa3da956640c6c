package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/config"
	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"go.uber.org/zap"
)

// Autosave keys, one per persisted collection plus project metadata.
const (
	saveKeyProject = "project"
)

func saveKey(kind models.EntityKind) string { return string(kind) }

type Options struct {
	ProjectID int64
	EpisodeID *int64
	Remote    Remote
	Logger    *zap.Logger
	Notifier  Notifier
	Config    config.SessionConfig
	// Clock drives placeholder ids; defaults to time.Now.
	Clock func() time.Time
}

// Session is one editing session over a project: the live store, its undo history,
// and the background machinery persisting and reconciling it.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	projectID int64
	remote    Remote
	logger    *zap.Logger
	notify    Notifier
	cfg       config.SessionConfig

	store    *Store
	history  *History
	remap    *idRemap
	engine   *Engine
	autosave *Autosave
	poller   *Poller
	tasks    *taskGroup

	// opMu serializes user operations so a history entry and its store write are atomic.
	opMu   sync.Mutex
	closed bool
	// lastText is the most recent text edit, for coalescing typing into one entry.
	lastText struct {
		desc string
		at   time.Time
	}

	idMu   sync.Mutex
	lastID int64
	clock  func() time.Time

	// deferred holds the base of an undo/redo sync skipped by the race guard; the next
	// undo/redo sync starts from it with a full flush.
	deferMu  sync.Mutex
	deferred *models.ProjectSnapshot
}

// Open loads the project and starts a session over it. The session lives until Close;
// ctx only bounds the initial load.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("open session: remote: %w", ErrInvalidArgument)
	}
	if !models.IsDurableID(opts.ProjectID) {
		return nil, fmt.Errorf("open session: project id %d: %w", opts.ProjectID, ErrInvalidArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int64("project_id", opts.ProjectID))
	notify := opts.Notifier
	if notify == nil {
		notify = NewLogNotifier(logger)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	snap, err := opts.Remote.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("open session: load project %d: %w", opts.ProjectID, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ctx:       sctx,
		cancel:    cancel,
		projectID: opts.ProjectID,
		remote:    opts.Remote,
		logger:    logger.Named("session"),
		notify:    notify,
		cfg:       opts.Config,
		store:     NewStore(snap),
		history:   NewHistory(opts.Config.HistoryLimit),
		remap:     newIDRemap(),
		clock:     clock,
	}
	s.tasks = &taskGroup{ctx: sctx, logger: s.logger}
	s.engine = newEngine(opts.Remote, s.store, s.remap, opts.ProjectID, opts.EpisodeID, logger)
	s.engine.refsRemapped = func() {
		s.tasks.Go("flush storyboards", func(ctx context.Context) error {
			return s.engine.FlushCollection(ctx, models.KindStoryboard)
		}, s.reportSave)
	}
	s.autosave = newAutosave(sctx, opts.Config.Debounce, logger, func(key string, err error) {
		s.notify.Warn(fmt.Sprintf("could not save %s changes, they are kept locally: %v", key, err))
	})
	s.poller = newPoller(sctx, opts.Remote, s.store, opts.ProjectID, opts.Config.PollInterval, opts.Config.PollTimeout, logger, notify)

	s.logger.Info("session opened",
		zap.Int("characters", len(snap.Characters)), zap.Int("scenes", len(snap.Scenes)),
		zap.Int("props", len(snap.Props)), zap.Int("storyboards", len(snap.Storyboards)))
	s.poller.Kick()
	return s, nil
}

// Snapshot returns a deep copy of the live state.
func (s *Session) Snapshot() *models.ProjectSnapshot { return s.store.Snapshot() }

// Version increases on every store write.
func (s *Session) Version() uint64 { return s.store.Version() }

func (s *Session) Poller() *Poller { return s.poller }

func (s *Session) CanUndo() bool {
	n, _ := s.history.Len()
	return n > 0
}

func (s *Session) CanRedo() bool {
	_, n := s.history.Len()
	return n > 0
}

func (s *Session) UndoDescription() string { return s.history.PeekUndoDescription() }

func (s *Session) RedoDescription() string { return s.history.PeekRedoDescription() }

// ResolveID returns the durable id a placeholder was confirmed as, or id itself.
func (s *Session) ResolveID(kind models.EntityKind, id int64) int64 {
	if to, ok := s.remap.lookup(kind, id); ok {
		return to
	}
	return id
}

// newPlaceholder returns a strictly increasing millisecond timestamp.
func (s *Session) newPlaceholder() int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := s.clock().UnixMilli()
	if id < models.PlaceholderThreshold {
		id = models.PlaceholderThreshold
	}
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// edit applies fn to the live state and, when record is set, pushes the pre-edit state
// onto the undo stack.
func (s *Session) edit(kind OpKind, desc string, record bool, fn func(*models.ProjectSnapshot) error) (before, after *models.ProjectSnapshot, err error) {
	before, after, _, err = s.change(func(snap *models.ProjectSnapshot) (Classification, error) {
		if err := fn(snap); err != nil {
			return Classification{}, err
		}
		return Classification{HistoryWorthy: record, Kind: kind, Description: desc}, nil
	})
	return before, after, err
}

// change applies fn to the live state and records the pre-edit state when fn
// classifies its change as history-worthy. Both happen under the operation lock.
func (s *Session) change(fn func(*models.ProjectSnapshot) (Classification, error)) (before, after *models.ProjectSnapshot, c Classification, err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil, nil, c, ErrSessionClosed
	}
	before, after, err = s.store.Transition(func(snap *models.ProjectSnapshot) error {
		var err error
		c, err = fn(snap)
		return err
	})
	if err != nil {
		return nil, nil, c, err
	}
	if c.HistoryWorthy {
		s.history.Record(before, c.Kind, c.Description)
	}
	return before, after, c, nil
}

// persist syncs the transition in the background.
func (s *Session) persist(before, after *models.ProjectSnapshot, kind OpKind) *Task {
	return s.tasks.Go(kind.String(), func(ctx context.Context) error {
		return s.engine.Apply(ctx, before, after, kind, SyncOptions{})
	}, s.reportSave)
}

// scheduleFlush debounces a full write of one collection.
func (s *Session) scheduleFlush(kind models.EntityKind) {
	s.autosave.Schedule(saveKey(kind), func(ctx context.Context) error {
		return s.engine.FlushCollection(ctx, kind)
	})
}

func (s *Session) reportSave(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("save failed", zap.Error(err))
	s.notify.Warn(fmt.Sprintf("could not save changes, they are kept locally: %v", err))
}

func (s *Session) reportSyncFailure(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("undo/redo sync failed", zap.Error(err))
	s.notify.Warn(ErrSyncFailed.Error())
}

// Checkpoint records the current state so a following batch of changes can be undone
// as one step.
func (s *Session) Checkpoint(description string) error {
	_, _, err := s.edit(OpNone, description, true, func(*models.ProjectSnapshot) error { return nil })
	return err
}

// Undo restores the state before the last recorded operation.
func (s *Session) Undo() (*Task, error) {
	return s.step("undo", s.history.Undo, s.history.PushRedo)
}

// Redo reapplies the last undone operation.
func (s *Session) Redo() (*Task, error) {
	return s.step("redo", s.history.Redo, s.history.PushUndo)
}

func (s *Session) step(label string, pop func() (Entry, error), push func(Entry)) (*Task, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	e, err := pop()
	if err != nil {
		return nil, err
	}
	restored := e.Snapshot.Clone()
	s.remap.apply(restored)
	before, after, _ := s.store.Transition(func(live *models.ProjectSnapshot) error {
		scopeRestore(restored, live, e.Kind)
		carryJobState(restored, live, e.Kind)
		*live = *restored
		return nil
	})
	push(Entry{Snapshot: before, Kind: e.Kind, Description: e.Description})
	s.lastText.desc = ""
	s.logger.Info(label, zap.Stringer("kind", e.Kind), zap.String("description", e.Description))

	mark := fingerprintOf(after)
	task := s.tasks.Go(label+" "+e.Kind.String(), func(ctx context.Context) error {
		if err := sleepCtx(ctx, s.cfg.UndoGuardDelay); err != nil {
			return err
		}
		var now fingerprint
		s.store.View(func(live *models.ProjectSnapshot) { now = fingerprintOf(live) })
		if now != mark {
			s.logger.Warn("state changed while "+label+" was pending, sync deferred", zap.Stringer("kind", e.Kind))
			s.deferSync(before)
			return nil
		}
		base, kind := s.takeDeferred(before, e.Kind)
		return s.engine.Apply(ctx, base, after, kind, SyncOptions{})
	}, s.reportSyncFailure)
	s.poller.Kick()
	return task, nil
}

// fingerprint captures collection sizes and metadata scalars for the undo/redo guard.
type fingerprint struct {
	characters, scenes, props, storyboards int
	name, ratio, styleName                 string
	styleID                                int64
}

func fingerprintOf(s *models.ProjectSnapshot) fingerprint {
	fp := fingerprint{
		characters:  len(s.Characters),
		scenes:      len(s.Scenes),
		props:       len(s.Props),
		storyboards: len(s.Storyboards),
		name:        s.Project.Name,
		ratio:       s.Project.AspectRatio,
		styleName:   s.Project.StyleName,
	}
	if s.Project.StyleID != nil {
		fp.styleID = *s.Project.StyleID
	}
	return fp
}

func (s *Session) deferSync(base *models.ProjectSnapshot) {
	s.deferMu.Lock()
	defer s.deferMu.Unlock()
	if s.deferred == nil {
		s.deferred = base
	}
}

func (s *Session) takeDeferred(base *models.ProjectSnapshot, kind OpKind) (*models.ProjectSnapshot, OpKind) {
	s.deferMu.Lock()
	defer s.deferMu.Unlock()
	if s.deferred == nil {
		return base, kind
	}
	base, s.deferred = s.deferred, nil
	return base, OpNone
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background task started so far has finished.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops polling, runs pending autosaves and waits for background writes. An
// undo/redo sync deferred by the race guard is flushed in full.
func (s *Session) Close() error {
	s.opMu.Lock()
	if s.closed {
		s.opMu.Unlock()
		return nil
	}
	s.closed = true
	s.opMu.Unlock()

	s.poller.Stop()
	s.autosave.Flush()
	s.tasks.Wait()

	s.deferMu.Lock()
	base := s.deferred
	s.deferred = nil
	s.deferMu.Unlock()
	if base != nil {
		s.reportSyncFailure(s.engine.Apply(s.ctx, base, s.store.Snapshot(), OpNone, SyncOptions{}))
		s.tasks.Wait()
	}
	s.cancel()
	s.logger.Info("session closed")
	return nil
}
