package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

func lookupFrame(s *models.ProjectSnapshot, id int64) (*models.Storyboard, error) {
	f := findFrame(s, id)
	if f == nil {
		return nil, fmt.Errorf("storyboard %d: %w", id, ErrNotFound)
	}
	return f, nil
}

// AddFrame inserts f at index, clamped to the timeline, under a new placeholder id.
// The returned task completes once the frame has its durable id.
func (s *Session) AddFrame(index int, f models.Storyboard) (*Task, int64, error) {
	id := s.newPlaceholder()
	f.ID = id
	f.Normalize()
	before, after, err := s.edit(OpAddStoryboard, "add storyboard", true, func(snap *models.ProjectSnapshot) error {
		if index < 0 || index > len(snap.Storyboards) {
			index = len(snap.Storyboards)
		}
		frames := make([]models.Storyboard, 0, len(snap.Storyboards)+1)
		frames = append(frames, snap.Storyboards[:index]...)
		frames = append(frames, f.Clone())
		frames = append(frames, snap.Storyboards[index:]...)
		snap.Storyboards = frames
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return s.persist(before, after, OpAddStoryboard), id, nil
}

// DeleteFrame removes a frame locally and deletes it remotely when it is durable.
func (s *Session) DeleteFrame(id int64) (*Task, error) {
	id = s.ResolveID(models.KindStoryboard, id)
	before, after, err := s.edit(OpDeleteStoryboard, "delete storyboard", true, func(snap *models.ProjectSnapshot) error {
		i := frameIndex(snap, id)
		if i < 0 {
			return fmt.Errorf("storyboard %d: %w", id, ErrNotFound)
		}
		snap.Storyboards = append(snap.Storyboards[:i], snap.Storyboards[i+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.tasks.Go(OpDeleteStoryboard.String(), func(ctx context.Context) error {
		if err := s.engine.Execute(ctx, Plan{Deletes: vanishedDurable(before, after, models.KindStoryboard)}); err != nil {
			return err
		}
		return s.engine.Apply(ctx, before, after, OpDeleteStoryboard, SyncOptions{UpdateLocalStateOnly: true})
	}, s.reportSave), nil
}

// MoveFrame moves the frame at position from to position to.
func (s *Session) MoveFrame(from, to int) (*Task, error) {
	before, after, err := s.edit(OpMoveStoryboard, "move storyboard", true, func(snap *models.ProjectSnapshot) error {
		n := len(snap.Storyboards)
		if from < 0 || from >= n || to < 0 || to >= n {
			return fmt.Errorf("move %d -> %d of %d frames: %w", from, to, n, ErrInvalidArgument)
		}
		if from == to {
			return errNoChange
		}
		f := snap.Storyboards[from]
		frames := append(snap.Storyboards[:from:from], snap.Storyboards[from+1:]...)
		frames = append(frames[:to], append([]models.Storyboard{f}, frames[to:]...)...)
		snap.Storyboards = frames
		return nil
	})
	if err == errNoChange {
		return completedTask(OpMoveStoryboard.String()), nil
	}
	if err != nil {
		return nil, err
	}
	return s.persist(before, after, OpMoveStoryboard), nil
}

var errNoChange = errors.New("no change")

// SetFrameText edits a frame's narrative line. Edits of the same frame that follow
// each other within the debounce window share one history entry; the write is debounced.
func (s *Session) SetFrameText(id int64, text string) error {
	id = s.ResolveID(models.KindStoryboard, id)
	desc := fmt.Sprintf("edit text of storyboard %d", id)
	_, _, _, err := s.change(func(snap *models.ProjectSnapshot) (Classification, error) {
		f, err := lookupFrame(snap, id)
		if err != nil {
			return Classification{}, err
		}
		if f.Text == text {
			return Classification{}, errNoChange
		}
		f.Text = text
		c := worthy(OpEditStoryboardText, desc)
		now := time.Now()
		if top, ok := s.history.PeekUndo(); ok && top.Kind == c.Kind && top.Description == desc &&
			s.lastText.desc == desc && now.Sub(s.lastText.at) < s.autosave.debounce {
			c.HistoryWorthy = false
		}
		s.lastText.desc, s.lastText.at = desc, now
		return c, nil
	})
	if err == errNoChange {
		return nil
	}
	if err != nil {
		return err
	}
	s.scheduleFlush(models.KindStoryboard)
	return nil
}

// UpdateFrame applies non-structural frame fields (prompt, duration) with a debounced
// write and no history entry.
func (s *Session) UpdateFrame(id int64, fn func(f *models.Storyboard)) error {
	id = s.ResolveID(models.KindStoryboard, id)
	_, _, err := s.edit(OpNone, "", false, func(snap *models.ProjectSnapshot) error {
		f, err := lookupFrame(snap, id)
		if err != nil {
			return err
		}
		keep := *f
		fn(f)
		// identity, references and media go through their own operations
		f.ID, f.SceneID, f.CharacterIDs, f.PropIDs = keep.ID, keep.SceneID, keep.CharacterIDs, keep.PropIDs
		for i, sl := range f.MediaSlots() {
			old := keep.MediaSlots()[i]
			*sl.URL, *sl.Status, *sl.Error = *old.URL, *old.Status, *old.Error
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.scheduleFlush(models.KindStoryboard)
	return nil
}

// SetFrameCharacters replaces a frame's character list.
func (s *Session) SetFrameCharacters(frameID int64, characterIDs []int64) (*Task, error) {
	return s.setFrameRefs(frameID, FieldCharacterIDs, func(f *models.Storyboard) (interface{}, interface{}) {
		old := f.CharacterIDs.Clone()
		f.CharacterIDs = models.IDList(append([]int64{}, characterIDs...))
		return old, f.CharacterIDs
	})
}

// SetFrameProps replaces a frame's prop list.
func (s *Session) SetFrameProps(frameID int64, propIDs []int64) (*Task, error) {
	return s.setFrameRefs(frameID, FieldPropIDs, func(f *models.Storyboard) (interface{}, interface{}) {
		old := f.PropIDs.Clone()
		f.PropIDs = models.IDList(append([]int64{}, propIDs...))
		return old, f.PropIDs
	})
}

// SetFrameScene sets a frame's scene; zero clears it.
func (s *Session) SetFrameScene(frameID, sceneID int64) (*Task, error) {
	return s.setFrameRefs(frameID, FieldSceneID, func(f *models.Storyboard) (interface{}, interface{}) {
		old := f.SceneID
		f.SceneID = sceneID
		return old, sceneID
	})
}

func (s *Session) AttachCharacter(frameID, characterID int64) (*Task, error) {
	return s.toggleRef(frameID, models.KindCharacter, characterID, true)
}

func (s *Session) DetachCharacter(frameID, characterID int64) (*Task, error) {
	return s.toggleRef(frameID, models.KindCharacter, characterID, false)
}

func (s *Session) AttachProp(frameID, propID int64) (*Task, error) {
	return s.toggleRef(frameID, models.KindProp, propID, true)
}

func (s *Session) DetachProp(frameID, propID int64) (*Task, error) {
	return s.toggleRef(frameID, models.KindProp, propID, false)
}

func (s *Session) toggleRef(frameID int64, kind models.EntityKind, id int64, attach bool) (*Task, error) {
	frameID = s.ResolveID(models.KindStoryboard, frameID)
	id = s.ResolveID(kind, id)
	var (
		current models.IDList
		found   bool
	)
	s.store.View(func(snap *models.ProjectSnapshot) {
		if f := findFrame(snap, frameID); f != nil {
			found = true
			if kind == models.KindCharacter {
				current = f.CharacterIDs.Clone()
			} else {
				current = f.PropIDs.Clone()
			}
		}
	})
	if !found {
		return nil, fmt.Errorf("storyboard %d: %w", frameID, ErrNotFound)
	}
	if current.Contains(id) == attach {
		return completedTask(fmt.Sprintf("%s %d", kind, id)), nil
	}
	next := without(current, id)
	if attach {
		next = append(next, id)
	}
	if kind == models.KindCharacter {
		return s.SetFrameCharacters(frameID, next)
	}
	return s.SetFrameProps(frameID, next)
}

// setFrameRefs applies a reference change and lets the classifier decide whether it
// is recorded. Unrecorded changes, such as reordering a list, are autosaved.
func (s *Session) setFrameRefs(frameID int64, field string, change func(f *models.Storyboard) (old, next interface{})) (*Task, error) {
	frameID = s.ResolveID(models.KindStoryboard, frameID)
	before, after, c, err := s.change(func(snap *models.ProjectSnapshot) (Classification, error) {
		f, err := lookupFrame(snap, frameID)
		if err != nil {
			return Classification{}, err
		}
		old, next := change(f)
		return Classify(Mutation{Entity: models.KindStoryboard, Field: field, Old: old, New: next}), nil
	})
	if err != nil {
		return nil, err
	}
	if !c.HistoryWorthy {
		s.scheduleFlush(models.KindStoryboard)
		return completedTask(field), nil
	}
	return s.persist(before, after, c.Kind), nil
}

// ApplyFrameMedia swaps a frame's image, video or high-res video for another,
// previously generated one.
func (s *Session) ApplyFrameMedia(frameID int64, field, url string) (*Task, error) {
	frameID = s.ResolveID(models.KindStoryboard, frameID)
	if !models.IsDurableID(frameID) {
		s.notify.Warn(ErrStillSaving.Error())
		return nil, ErrStillSaving
	}
	if !isMediaField(models.KindStoryboard, field) {
		return nil, fmt.Errorf("frame media field %q: %w", field, ErrInvalidArgument)
	}
	before, after, c, err := s.change(func(snap *models.ProjectSnapshot) (Classification, error) {
		f, err := lookupFrame(snap, frameID)
		if err != nil {
			return Classification{}, err
		}
		var slot models.MediaSlot
		switch field {
		case FieldImageURL:
			slot, _ = slotByName(f.MediaSlots(), "image")
		case FieldVideoURL:
			slot, _ = slotByName(f.MediaSlots(), "video")
		default:
			slot, _ = slotByName(f.MediaSlots(), "highRes")
		}
		c := Classify(Mutation{Entity: models.KindStoryboard, Field: field, Old: *slot.URL, New: url})
		if !c.HistoryWorthy {
			return c, errNoChange
		}
		*slot.URL, *slot.Status, *slot.Error = url, slot.Done, ""
		return c, nil
	})
	if err == errNoChange {
		return completedTask(field), nil
	}
	if err != nil {
		return nil, err
	}
	return s.persist(before, after, c.Kind), nil
}
