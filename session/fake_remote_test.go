package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/config"
	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRemote is an in-memory backend. Saves assign ids from a counter and replace the
// stored collection; media fields of existing rows stay as the server has them.
type fakeRemote struct {
	mu      sync.Mutex
	nextID  int64
	state   *models.ProjectSnapshot
	saves   map[models.EntityKind]int
	created int
	meta    int
	deletes []EntityRef
	patches map[int64][]models.StoryboardMediaPatch
	gets    int
	jobs    []string

	saveErr error
	getErr  error
	genErr  error

	// hold blocks saves of holdKind until release is closed; entered is closed on
	// the first blocked save.
	holdKind models.EntityKind
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newFakeRemote(snap *models.ProjectSnapshot) *fakeRemote {
	return &fakeRemote{
		nextID:  1000,
		state:   snap.Clone(),
		saves:   map[models.EntityKind]int{},
		patches: map[int64][]models.StoryboardMediaPatch{},
	}
}

func (r *fakeRemote) hold(kind models.EntityKind) (entered <-chan struct{}, release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdKind = kind
	r.entered = make(chan struct{})
	r.release = make(chan struct{})
	rel := r.release
	return r.entered, func() { close(rel) }
}

func (r *fakeRemote) wait(kind models.EntityKind) {
	r.mu.Lock()
	if r.release == nil || r.holdKind != kind {
		r.mu.Unlock()
		return
	}
	entered, release := r.entered, r.release
	r.mu.Unlock()
	r.once.Do(func() { close(entered) })
	<-release
}

func (r *fakeRemote) update(fn func(*models.ProjectSnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

func (r *fakeRemote) snapshot() *models.ProjectSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

func (r *fakeRemote) saveCount(kind models.EntityKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[kind]
}

func (r *fakeRemote) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func (r *fakeRemote) jobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *fakeRemote) deleted() []EntityRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EntityRef(nil), r.deletes...)
}

func (r *fakeRemote) GetProject(_ context.Context, projectID int64) (*models.ProjectSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.getErr != nil {
		return nil, r.getErr
	}
	if projectID != r.state.Project.ID {
		return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	return r.state.Clone(), nil
}

func (r *fakeRemote) assign(id int64) int64 {
	if models.IsDurableID(id) {
		return id
	}
	r.nextID++
	r.created++
	return r.nextID
}

// keepServerMedia copies the stored media of every row that already existed.
func keepServerMedia(prev, next *models.ProjectSnapshot, kind models.EntityKind) {
	old := prev.Slots(kind)
	for id, slots := range next.Slots(kind) {
		ps, ok := old[id]
		if !ok {
			continue
		}
		for _, sl := range slots {
			if p, ok := slotByName(ps, sl.Name); ok {
				*sl.URL, *sl.Status, *sl.Error = *p.URL, *p.Status, *p.Error
			}
		}
	}
}

func save[T any](r *fakeRemote, kind models.EntityKind, in []T, clone func(T) T, id func(*T) *int64, store func(*models.ProjectSnapshot, []T)) ([]T, error) {
	r.wait(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves[kind]++
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	out := make([]T, len(in))
	for i := range in {
		out[i] = clone(in[i])
		p := id(&out[i])
		*p = r.assign(*p)
	}
	prev := r.state.Clone()
	store(r.state, cloneSlice(out, clone))
	keepServerMedia(prev, r.state, kind)
	return out, nil
}

func (r *fakeRemote) SaveCharacters(_ context.Context, _ int64, _ *int64, in []models.Character) ([]models.Character, error) {
	return save(r, models.KindCharacter, in, models.Character.Clone,
		func(c *models.Character) *int64 { return &c.ID },
		func(s *models.ProjectSnapshot, v []models.Character) { s.Characters = v })
}

func (r *fakeRemote) SaveScenes(_ context.Context, _ int64, _ *int64, in []models.Scene) ([]models.Scene, error) {
	return save(r, models.KindScene, in, models.Scene.Clone,
		func(c *models.Scene) *int64 { return &c.ID },
		func(s *models.ProjectSnapshot, v []models.Scene) { s.Scenes = v })
}

func (r *fakeRemote) SaveProps(_ context.Context, _ int64, _ *int64, in []models.Prop) ([]models.Prop, error) {
	return save(r, models.KindProp, in, models.Prop.Clone,
		func(c *models.Prop) *int64 { return &c.ID },
		func(s *models.ProjectSnapshot, v []models.Prop) { s.Props = v })
}

func (r *fakeRemote) SaveStoryboards(_ context.Context, _ int64, _ *int64, in []models.Storyboard) ([]models.Storyboard, error) {
	return save(r, models.KindStoryboard, in, models.Storyboard.Clone,
		func(c *models.Storyboard) *int64 { return &c.ID },
		func(s *models.ProjectSnapshot, v []models.Storyboard) { s.Storyboards = v })
}

func (r *fakeRemote) PatchFrameMedia(_ context.Context, _ int64, frameID int64, patch models.StoryboardMediaPatch) (*models.Storyboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches[frameID] = append(r.patches[frameID], patch)
	f := findFrame(r.state, frameID)
	if f == nil {
		return nil, fmt.Errorf("storyboard %d: %w", frameID, ErrNotFound)
	}
	patch.Apply(f)
	out := f.Clone()
	return &out, nil
}

func (r *fakeRemote) DeleteEntity(_ context.Context, kind models.EntityKind, _ int64, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, EntityRef{Kind: kind, ID: id})
	if kind == models.KindStoryboard {
		if i := frameIndex(r.state, id); i >= 0 {
			r.state.Storyboards = append(r.state.Storyboards[:i], r.state.Storyboards[i+1:]...)
			return nil
		}
	} else if removeAsset(r.state, kind, id) {
		return nil
	}
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

func (r *fakeRemote) UpdateProject(_ context.Context, _ int64, u models.ProjectUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta++
	if r.saveErr != nil {
		return r.saveErr
	}
	if u.Name != nil {
		r.state.Project.Name = *u.Name
	}
	if u.AspectRatio != nil {
		r.state.Project.AspectRatio = *u.AspectRatio
	}
	return nil
}

func (r *fakeRemote) job(name string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.genErr != nil {
		return nil, r.genErr
	}
	r.jobs = append(r.jobs, name)
	return &Job{ID: fmt.Sprintf("job-%d", len(r.jobs)), Status: "pending"}, nil
}

func (r *fakeRemote) GenerateImage(_ context.Context, kind models.EntityKind, _ int64, id int64, _ string) (*Job, error) {
	return r.job(fmt.Sprintf("%s-image-%d", kind, id))
}

func (r *fakeRemote) GenerateVideo(_ context.Context, _ int64, frameID int64, variant VideoVariant, _ string) (*Job, error) {
	return r.job(fmt.Sprintf("video-%s-%d", variant, frameID))
}

func (r *fakeRemote) RegisterCharacter(_ context.Context, _ int64, characterID int64) (*Job, error) {
	return r.job(fmt.Sprintf("register-%d", characterID))
}

type recordingNotifier struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, msg)
}

func (n *recordingNotifier) warnings() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.warns...)
}

// seedSnapshot is a project with two characters, a scene, a prop and frames 41..45.
func seedSnapshot() *models.ProjectSnapshot {
	snap := &models.ProjectSnapshot{
		Project:    models.Project{ID: 1, Name: "harbor night", AspectRatio: models.AspectRatioWidescreen},
		Characters: []models.Character{{Asset: models.Asset{ID: 11, Name: "Ann"}}, {Asset: models.Asset{ID: 12, Name: "Bob"}}},
		Scenes:     []models.Scene{{Asset: models.Asset{ID: 21, Name: "Pier"}}},
		Props:      []models.Prop{{Asset: models.Asset{ID: 31, Name: "Lamp"}}},
	}
	for i := 0; i < 5; i++ {
		snap.Storyboards = append(snap.Storyboards, models.Storyboard{ID: int64(41 + i), Text: fmt.Sprintf("line %d", i+1)})
	}
	snap.Normalize()
	return snap
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		PollInterval: 10 * time.Millisecond,
		Debounce:     20 * time.Millisecond,
		HistoryLimit: 50,
	}
}

func openTestSession(t *testing.T, r *fakeRemote, tune ...func(*config.SessionConfig)) (*Session, *recordingNotifier) {
	t.Helper()
	cfg := testSessionConfig()
	for _, fn := range tune {
		fn(&cfg)
	}
	n := &recordingNotifier{}
	s, err := Open(context.Background(), Options{
		ProjectID: 1,
		Remote:    r,
		Logger:    zaptest.NewLogger(t),
		Notifier:  n,
		Config:    cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, n
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-task.Done():
		return task.Err()
	case <-ctx.Done():
		t.Fatalf("task %s did not finish", task.Name())
		return nil
	}
}
