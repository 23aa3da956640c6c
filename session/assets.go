package session

import (
	"context"
	"fmt"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

func lookupAsset(s *models.ProjectSnapshot, kind models.EntityKind, id int64) (*models.Asset, error) {
	a := findAsset(s, kind, id)
	if a == nil {
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return a, nil
}

func (s *Session) AddCharacter(c models.Character) (*Task, int64, error) {
	return s.addAsset(models.KindCharacter, func(snap *models.ProjectSnapshot, id int64) {
		c.ID = id
		c.Normalize()
		snap.Characters = append(snap.Characters, c.Clone())
	})
}

func (s *Session) AddScene(sc models.Scene) (*Task, int64, error) {
	return s.addAsset(models.KindScene, func(snap *models.ProjectSnapshot, id int64) {
		sc.ID = id
		sc.Normalize()
		snap.Scenes = append(snap.Scenes, sc.Clone())
	})
}

func (s *Session) AddProp(p models.Prop) (*Task, int64, error) {
	return s.addAsset(models.KindProp, func(snap *models.ProjectSnapshot, id int64) {
		p.ID = id
		p.Normalize()
		snap.Props = append(snap.Props, p.Clone())
	})
}

// addAsset appends a new entity under a placeholder id. The returned task completes
// once the save confirmed its durable id and every frame reference was remapped.
func (s *Session) addAsset(kind models.EntityKind, insert func(*models.ProjectSnapshot, int64)) (*Task, int64, error) {
	id := s.newPlaceholder()
	op := addOp(kind)
	before, after, err := s.edit(op, "add "+string(kind), true, func(snap *models.ProjectSnapshot) error {
		insert(snap, id)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return s.persist(before, after, op), id, nil
}

// UpdateAsset edits free-text fields of an asset. The write is debounced and no
// history entry is recorded.
func (s *Session) UpdateAsset(kind models.EntityKind, id int64, name, description string) error {
	id = s.ResolveID(kind, id)
	_, _, err := s.edit(OpNone, "", false, func(snap *models.ProjectSnapshot) error {
		a, err := lookupAsset(snap, kind, id)
		if err != nil {
			return err
		}
		a.Name, a.Description = name, description
		return nil
	})
	if err != nil {
		return err
	}
	s.scheduleFlush(kind)
	return nil
}

// DeleteAsset removes an asset and every frame reference to it.
func (s *Session) DeleteAsset(kind models.EntityKind, id int64) (*Task, error) {
	if kind == models.KindStoryboard {
		return s.DeleteFrame(id)
	}
	id = s.ResolveID(kind, id)
	op := deleteOp(kind)
	before, after, err := s.edit(op, "delete "+string(kind), true, func(snap *models.ProjectSnapshot) error {
		if !removeAsset(snap, kind, id) {
			return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		detachAsset(snap, kind, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.persist(before, after, op), nil
}

func removeAsset(s *models.ProjectSnapshot, kind models.EntityKind, id int64) bool {
	switch kind {
	case models.KindCharacter:
		for i := range s.Characters {
			if s.Characters[i].ID == id {
				s.Characters = append(s.Characters[:i], s.Characters[i+1:]...)
				return true
			}
		}
	case models.KindScene:
		for i := range s.Scenes {
			if s.Scenes[i].ID == id {
				s.Scenes = append(s.Scenes[:i], s.Scenes[i+1:]...)
				return true
			}
		}
	case models.KindProp:
		for i := range s.Props {
			if s.Props[i].ID == id {
				s.Props = append(s.Props[:i], s.Props[i+1:]...)
				return true
			}
		}
	}
	return false
}

// ApplyAssetMedia swaps an asset's image for another, previously generated one.
func (s *Session) ApplyAssetMedia(kind models.EntityKind, id int64, url string) (*Task, error) {
	if kind == models.KindStoryboard {
		return s.ApplyFrameMedia(id, FieldImageURL, url)
	}
	id = s.ResolveID(kind, id)
	before, after, c, err := s.change(func(snap *models.ProjectSnapshot) (Classification, error) {
		a, err := lookupAsset(snap, kind, id)
		if err != nil {
			return Classification{}, err
		}
		c := Classify(Mutation{Entity: kind, Field: FieldImageURL, Old: a.ImageURL, New: url})
		if !c.HistoryWorthy {
			return c, errNoChange
		}
		a.ImageURL, a.ImageStatus, a.ImageError = url, models.MediaStatusGenerated, ""
		return c, nil
	})
	if err == errNoChange {
		return completedTask(c.Kind.String()), nil
	}
	if err != nil {
		return nil, err
	}
	return s.persist(before, after, c.Kind), nil
}

// LinkLibrary binds a character to a reusable library entry, taking over its fields.
// The character's own fields are backed up so UnlinkLibrary can restore them.
func (s *Session) LinkLibrary(characterID, libraryID int64, from models.AssetBackup) (*Task, error) {
	characterID = s.ResolveID(models.KindCharacter, characterID)
	before, after, err := s.edit(OpLinkLibrary, "link character to library", true, func(snap *models.ProjectSnapshot) error {
		c := findCharacter(snap, characterID)
		if c == nil {
			return fmt.Errorf("character %d: %w", characterID, ErrNotFound)
		}
		if c.LibraryBackup == nil {
			c.LibraryBackup = &models.AssetBackup{
				Name:        c.Name,
				Description: c.Description,
				ImageURL:    c.ImageURL,
				ImageStatus: c.ImageStatus,
			}
		}
		lib := libraryID
		c.LibraryID = &lib
		c.Name, c.Description = from.Name, from.Description
		c.ImageURL, c.ImageStatus, c.ImageError = from.ImageURL, from.ImageStatus, ""
		if c.ImageStatus == "" {
			c.ImageStatus = models.MediaStatusIdle
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.persist(before, after, OpLinkLibrary), nil
}

// UnlinkLibrary reverses LinkLibrary.
func (s *Session) UnlinkLibrary(characterID int64) (*Task, error) {
	characterID = s.ResolveID(models.KindCharacter, characterID)
	before, after, err := s.edit(OpUnlinkLibrary, "unlink character from library", true, func(snap *models.ProjectSnapshot) error {
		c := findCharacter(snap, characterID)
		if c == nil {
			return fmt.Errorf("character %d: %w", characterID, ErrNotFound)
		}
		if c.LibraryID == nil {
			return fmt.Errorf("character %d is not linked: %w", characterID, ErrInvalidArgument)
		}
		if b := c.LibraryBackup; b != nil {
			c.Name, c.Description = b.Name, b.Description
			c.ImageURL, c.ImageStatus, c.ImageError = b.ImageURL, b.ImageStatus, ""
			if c.ImageStatus == "" {
				c.ImageStatus = models.MediaStatusIdle
			}
		}
		c.LibraryID, c.LibraryBackup = nil, nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.persist(before, after, OpUnlinkLibrary), nil
}

// UpdateMetadata changes project name, aspect ratio or style. The change is recorded
// and its write debounced.
func (s *Session) UpdateMetadata(update models.ProjectUpdate) error {
	if update.AspectRatio != nil && !models.ValidAspectRatio(*update.AspectRatio) {
		return fmt.Errorf("aspect ratio %q: %w", *update.AspectRatio, ErrInvalidArgument)
	}
	_, _, err := s.edit(OpProjectMetadata, "edit project settings", true, func(snap *models.ProjectSnapshot) error {
		p := &snap.Project
		if update.Name != nil {
			p.Name = *update.Name
		}
		if update.AspectRatio != nil {
			p.AspectRatio = *update.AspectRatio
		}
		if update.StyleID != nil {
			v := *update.StyleID
			p.StyleID = &v
		}
		if update.StyleName != nil {
			p.StyleName = *update.StyleName
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.autosave.Schedule(saveKeyProject, s.engine.PersistMetadata)
	return nil
}

// FlushNow writes metadata and every collection immediately.
func (s *Session) FlushNow(ctx context.Context) error {
	return s.engine.FlushAll(ctx)
}
