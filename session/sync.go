package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type SyncOptions struct {
	// UpdateLocalStateOnly is set when the caller has already issued the remote
	// deletes; the engine then persists the resulting collection order only.
	UpdateLocalStateOnly bool
}

type EntityRef struct {
	Kind models.EntityKind
	ID   int64
}

// FramePatch is a media-only write for one frame. The flags name the media classes
// that changed; the values are re-read from the live store when the patch executes.
type FramePatch struct {
	FrameID int64
	Image   bool
	Video   bool
	HighRes bool
}

// Plan is the set of remote writes a transition needs.
type Plan struct {
	Metadata    bool
	Collections []models.EntityKind
	Deletes     []EntityRef
	Patches     []FramePatch
}

func (p Plan) Empty() bool {
	return !p.Metadata && len(p.Collections) == 0 && len(p.Deletes) == 0 && len(p.Patches) == 0
}

// PlanSync computes the writes persisting the transition old -> next caused by kind.
func PlanSync(old, next *models.ProjectSnapshot, kind OpKind, opts SyncOptions) Plan {
	var p Plan
	switch {
	case kind == OpNone:
		return planFull(old, next)

	case kind.storyboardScoped():
		p.Collections = []models.EntityKind{models.KindStoryboard}
		if !opts.UpdateLocalStateOnly {
			p.Deletes = vanishedDurable(old, next, models.KindStoryboard)
		}
		return p

	case kind == OpDeleteStoryboard:
		_, appeared := idDiff(ids(old, models.KindStoryboard), ids(next, models.KindStoryboard))
		if !opts.UpdateLocalStateOnly {
			p.Deletes = vanishedDurable(old, next, models.KindStoryboard)
		}
		if len(appeared) > 0 || opts.UpdateLocalStateOnly {
			p.Collections = []models.EntityKind{models.KindStoryboard}
		}
		return p

	case kind == OpApplyHistoryMediaFrameImage, kind == OpApplyHistoryMediaFrameVideo:
		p.Patches = planPatches(old, next)
		return p

	case kind == OpProjectMetadata:
		p.Metadata = true
		return p
	}

	if ak, ok := kind.assetKind(); ok {
		p.Collections = []models.EntityKind{ak}
		if !opts.UpdateLocalStateOnly {
			p.Deletes = vanishedDurable(old, next, ak)
		}
		if refsChanged(old, next) {
			p.Collections = append(p.Collections, models.KindStoryboard)
		}
		return p
	}
	return planFull(old, next)
}

func planFull(old, next *models.ProjectSnapshot) Plan {
	p := Plan{Metadata: true}
	if len(next.Characters) > 0 {
		p.Collections = append(p.Collections, models.KindCharacter)
	}
	p.Collections = append(p.Collections, models.KindScene, models.KindProp)
	if len(next.Storyboards) > 0 {
		p.Collections = append(p.Collections, models.KindStoryboard)
	}
	for _, kind := range models.AllKinds {
		p.Deletes = append(p.Deletes, vanishedDurable(old, next, kind)...)
	}
	return p
}

func vanishedDurable(old, next *models.ProjectSnapshot, kind models.EntityKind) []EntityRef {
	vanished, _ := idDiff(ids(old, kind), ids(next, kind))
	var out []EntityRef
	for _, id := range durableOnly(vanished) {
		out = append(out, EntityRef{Kind: kind, ID: id})
	}
	return out
}

func planPatches(old, next *models.ProjectSnapshot) []FramePatch {
	var out []FramePatch
	for i := range next.Storyboards {
		nf := &next.Storyboards[i]
		if !models.IsDurableID(nf.ID) {
			continue
		}
		of := findFrame(old, nf.ID)
		if of == nil {
			continue
		}
		fp := FramePatch{
			FrameID: nf.ID,
			Image:   nf.ImageURL != of.ImageURL,
			Video:   nf.VideoURL != of.VideoURL,
			HighRes: nf.HighResVideoURL != of.HighResVideoURL,
		}
		if fp.Image || fp.Video || fp.HighRes {
			out = append(out, fp)
		}
	}
	return out
}

// mediaPatch builds the patch carrying the flagged media fields and their statuses.
func (fp FramePatch) mediaPatch(f *models.Storyboard) models.StoryboardMediaPatch {
	var p models.StoryboardMediaPatch
	if fp.Image {
		url, status := f.ImageURL, f.ImageStatus
		p.ImageURL, p.ImageStatus = &url, &status
	}
	if fp.Video {
		url, status := f.VideoURL, f.VideoStatus
		p.VideoURL, p.Status = &url, &status
	}
	if fp.HighRes {
		url, status := f.HighResVideoURL, f.HighResStatus
		p.HighResVideoURL, p.HighResStatus = &url, &status
	}
	return p
}

// Engine executes sync plans against the remote. Collection writes always send the
// live collection as it is at write time and are serialized per collection.
type Engine struct {
	remote    Remote
	store     *Store
	remap     *idRemap
	projectID int64
	episodeID *int64
	logger    *zap.Logger

	metaMu sync.Mutex
	colMu  map[models.EntityKind]*sync.Mutex

	// refsRemapped is called after a save rewrote frame references to new durable ids.
	refsRemapped func()
}

func newEngine(remote Remote, store *Store, remap *idRemap, projectID int64, episodeID *int64, logger *zap.Logger) *Engine {
	e := &Engine{
		remote:    remote,
		store:     store,
		remap:     remap,
		projectID: projectID,
		episodeID: episodeID,
		logger:    logger.Named("sync"),
		colMu:     map[models.EntityKind]*sync.Mutex{},
	}
	for _, k := range models.AllKinds {
		e.colMu[k] = &sync.Mutex{}
	}
	return e
}

// Apply persists the transition old -> next. It blocks until every write finished and
// returns all write errors combined.
func (e *Engine) Apply(ctx context.Context, old, next *models.ProjectSnapshot, kind OpKind, opts SyncOptions) error {
	plan := PlanSync(old, next, kind, opts)
	e.logger.Debug("sync", zap.Stringer("kind", kind), zap.Bool("metadata", plan.Metadata),
		zap.Int("collections", len(plan.Collections)), zap.Int("deletes", len(plan.Deletes)),
		zap.Int("patches", len(plan.Patches)))
	return e.Execute(ctx, plan)
}

func (e *Engine) Execute(ctx context.Context, plan Plan) error {
	var err error
	if plan.Metadata {
		err = multierr.Append(err, e.PersistMetadata(ctx))
	}
	for _, kind := range plan.Collections {
		err = multierr.Append(err, e.FlushCollection(ctx, kind))
	}
	for _, d := range plan.Deletes {
		err = multierr.Append(err, e.deleteRemote(ctx, d))
	}
	for _, fp := range plan.Patches {
		err = multierr.Append(err, e.patchFrame(ctx, fp))
	}
	return err
}

// PersistMetadata sends the live project metadata.
func (e *Engine) PersistMetadata(ctx context.Context) error {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	var p models.Project
	e.store.View(func(s *models.ProjectSnapshot) { p = s.Project.Clone() })
	update := models.ProjectUpdate{
		Name:        &p.Name,
		AspectRatio: &p.AspectRatio,
		StyleID:     p.StyleID,
		StyleName:   &p.StyleName,
	}
	if err := e.remote.UpdateProject(ctx, e.projectID, update); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// FlushAll persists metadata and every collection.
func (e *Engine) FlushAll(ctx context.Context) error {
	err := e.PersistMetadata(ctx)
	for _, kind := range models.AllKinds {
		err = multierr.Append(err, e.FlushCollection(ctx, kind))
	}
	return err
}

// FlushCollection sends the full live collection of kind and adopts the durable ids
// returned for placeholders.
func (e *Engine) FlushCollection(ctx context.Context, kind models.EntityKind) error {
	mu, ok := e.colMu[kind]
	if !ok {
		return fmt.Errorf("flush %q: %w", kind, ErrInvalidArgument)
	}
	mu.Lock()
	defer mu.Unlock()

	var (
		sent, got []int64
		err       error
	)
	switch kind {
	case models.KindCharacter:
		sent, got, err = saveCollection(ctx, e, kind, e.remote.SaveCharacters, func(c models.Character) int64 { return c.ID })
	case models.KindScene:
		sent, got, err = saveCollection(ctx, e, kind, e.remote.SaveScenes, func(c models.Scene) int64 { return c.ID })
	case models.KindProp:
		sent, got, err = saveCollection(ctx, e, kind, e.remote.SaveProps, func(c models.Prop) int64 { return c.ID })
	case models.KindStoryboard:
		sent, got, err = saveCollection(ctx, e, kind, e.remote.SaveStoryboards, func(c models.Storyboard) int64 { return c.ID })
	}
	if err != nil {
		return fmt.Errorf("save %ss: %w", kind, err)
	}
	if len(sent) != len(got) {
		return fmt.Errorf("save %ss: sent %d items, got %d", kind, len(sent), len(got))
	}
	mapping := map[int64]int64{}
	for i := range sent {
		if sent[i] != got[i] && models.IsPlaceholderID(sent[i]) && models.IsDurableID(got[i]) {
			mapping[sent[i]] = got[i]
		}
	}
	return e.adopt(ctx, kind, mapping)
}

func saveCollection[T any](ctx context.Context, e *Engine, kind models.EntityKind,
	save func(context.Context, int64, *int64, []T) ([]T, error), idOf func(T) int64) (sent, got []int64, err error) {
	items, _ := e.store.Get(kind).([]T)
	if items == nil {
		items = []T{}
	}
	out, err := save(ctx, e.projectID, e.episodeID, items)
	if err != nil {
		return nil, nil, err
	}
	for _, it := range items {
		sent = append(sent, idOf(it))
	}
	for _, it := range out {
		got = append(got, idOf(it))
	}
	return sent, got, nil
}

// adopt rewrites confirmed placeholders in the live store. A placeholder that is no
// longer present was deleted while its create was in flight, so the new remote row
// is deleted again.
func (e *Engine) adopt(ctx context.Context, kind models.EntityKind, mapping map[int64]int64) error {
	if len(mapping) == 0 {
		return nil
	}
	e.remap.add(kind, mapping)
	var (
		orphans []int64
		refs    bool
	)
	_ = e.store.Mutate(func(s *models.ProjectSnapshot) error {
		present := map[int64]bool{}
		for _, id := range ids(s, kind) {
			present[id] = true
		}
		for from, to := range mapping {
			if !present[from] && !present[to] {
				orphans = append(orphans, to)
			}
		}
		refs = remapSnapshot(s, kind, mapping)
		return nil
	})
	e.logger.Debug("ids confirmed", zap.String("kind", string(kind)), zap.Int("count", len(mapping)), zap.Int("orphans", len(orphans)))

	var err error
	for _, id := range orphans {
		err = multierr.Append(err, e.deleteRemote(ctx, EntityRef{Kind: kind, ID: id}))
	}
	if refs && e.refsRemapped != nil {
		e.refsRemapped()
	}
	return err
}

func (e *Engine) deleteRemote(ctx context.Context, ref EntityRef) error {
	if !models.IsDurableID(ref.ID) {
		return nil
	}
	err := e.remote.DeleteEntity(ctx, ref.Kind, e.projectID, ref.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s %d: %w", ref.Kind, ref.ID, err)
	}
	return nil
}

func (e *Engine) patchFrame(ctx context.Context, fp FramePatch) error {
	var (
		frame models.Storyboard
		found bool
	)
	e.store.View(func(s *models.ProjectSnapshot) {
		if f := findFrame(s, fp.FrameID); f != nil {
			frame, found = f.Clone(), true
		}
	})
	if !found {
		return nil
	}
	mu := e.colMu[models.KindStoryboard]
	mu.Lock()
	defer mu.Unlock()
	if _, err := e.remote.PatchFrameMedia(ctx, e.projectID, fp.FrameID, fp.mediaPatch(&frame)); err != nil {
		return fmt.Errorf("patch frame %d media: %w", fp.FrameID, err)
	}
	return nil
}
