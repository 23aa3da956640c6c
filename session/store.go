package session

import (
	"sync"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

// Store owns the live project snapshot. Every read returns a deep copy and every
// write happens under the lock, so continuations that resume after a remote call
// always observe the current state rather than one captured earlier.
type Store struct {
	mu      sync.RWMutex
	snap    *models.ProjectSnapshot
	version uint64
}

func NewStore(snap *models.ProjectSnapshot) *Store {
	if snap == nil {
		snap = &models.ProjectSnapshot{}
	}
	s := snap.Clone()
	s.Normalize()
	return &Store{snap: s}
}

// Snapshot returns a deep copy of the live state.
func (s *Store) Snapshot() *models.ProjectSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// View runs fn against the live state under the read lock. fn must not retain or
// modify the snapshot.
func (s *Store) View(fn func(*models.ProjectSnapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.snap)
}

// Version increases on every successful write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ReplaceAll swaps the whole snapshot.
func (s *Store) ReplaceAll(snap *models.ProjectSnapshot) {
	c := snap.Clone()
	c.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = c
	s.version++
}

// Replace swaps one collection. collection must be the slice type of kind.
func (s *Store) Replace(kind models.EntityKind, collection interface{}) error {
	return s.Mutate(func(snap *models.ProjectSnapshot) error {
		switch kind {
		case models.KindCharacter:
			v, ok := collection.([]models.Character)
			if !ok {
				return ErrInvalidArgument
			}
			snap.Characters = cloneSlice(v, models.Character.Clone)
		case models.KindScene:
			v, ok := collection.([]models.Scene)
			if !ok {
				return ErrInvalidArgument
			}
			snap.Scenes = cloneSlice(v, models.Scene.Clone)
		case models.KindProp:
			v, ok := collection.([]models.Prop)
			if !ok {
				return ErrInvalidArgument
			}
			snap.Props = cloneSlice(v, models.Prop.Clone)
		case models.KindStoryboard:
			v, ok := collection.([]models.Storyboard)
			if !ok {
				return ErrInvalidArgument
			}
			snap.Storyboards = cloneSlice(v, models.Storyboard.Clone)
		default:
			return ErrInvalidArgument
		}
		return nil
	})
}

// Get returns a copy of one collection as its slice type.
func (s *Store) Get(kind models.EntityKind) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case models.KindCharacter:
		return cloneSlice(s.snap.Characters, models.Character.Clone)
	case models.KindScene:
		return cloneSlice(s.snap.Scenes, models.Scene.Clone)
	case models.KindProp:
		return cloneSlice(s.snap.Props, models.Prop.Clone)
	case models.KindStoryboard:
		return cloneSlice(s.snap.Storyboards, models.Storyboard.Clone)
	}
	return nil
}

// Mutate applies fn to the live state atomically. When fn returns an error the state
// is left untouched.
func (s *Store) Mutate(fn func(*models.ProjectSnapshot) error) error {
	_, _, err := s.Transition(fn)
	return err
}

// Transition is Mutate that also returns deep copies of the state before and after.
func (s *Store) Transition(fn func(*models.ProjectSnapshot) error) (before, after *models.ProjectSnapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.snap.Clone()
	if err := fn(work); err != nil {
		return nil, nil, err
	}
	before = s.snap
	s.snap = work
	s.version++
	return before, work.Clone(), nil
}

func cloneSlice[T any](in []T, clone func(T) T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	for i := range in {
		out[i] = clone(in[i])
	}
	return out
}
