package session

import (
	"context"
	"fmt"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"go.uber.org/zap"
)

// GenerateImage submits an image job for a character, scene, prop or frame.
func (s *Session) GenerateImage(ctx context.Context, kind models.EntityKind, id int64, model string) (*Job, error) {
	return s.submit(ctx, kind, id, "image", func(ctx context.Context, id int64) (*Job, error) {
		return s.remote.GenerateImage(ctx, kind, s.projectID, id, model)
	})
}

// GenerateVideo submits a primary or enhanced video job for a frame.
func (s *Session) GenerateVideo(ctx context.Context, frameID int64, variant VideoVariant, model string) (*Job, error) {
	slot := "video"
	switch variant {
	case VideoPrimary, "":
		variant = VideoPrimary
	case VideoEnhanced:
		slot = "highRes"
	default:
		return nil, fmt.Errorf("video variant %q: %w", variant, ErrInvalidArgument)
	}
	return s.submit(ctx, models.KindStoryboard, frameID, slot, func(ctx context.Context, id int64) (*Job, error) {
		return s.remote.GenerateVideo(ctx, s.projectID, id, variant, model)
	})
}

// RegisterCharacter registers a character with the identity provider.
func (s *Session) RegisterCharacter(ctx context.Context, characterID int64) (*Job, error) {
	return s.submit(ctx, models.KindCharacter, characterID, "identity", func(ctx context.Context, id int64) (*Job, error) {
		return s.remote.RegisterCharacter(ctx, s.projectID, id)
	})
}

// submit marks slot of the entity in progress and calls the remote. Placeholder ids are
// refused before any request is made. The outcome arrives through the poller, which
// ignores the slot in responses fetched before the request was acknowledged.
func (s *Session) submit(ctx context.Context, kind models.EntityKind, id int64, slot string, call func(context.Context, int64) (*Job, error)) (*Job, error) {
	id = s.ResolveID(kind, id)
	if !models.IsDurableID(id) {
		s.notify.Warn(ErrStillSaving.Error())
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrStillSaving)
	}
	acked := s.poller.beginSubmit(kind, id, slot)
	err := s.setSlot(kind, id, slot, func(sl models.MediaSlot) {
		*sl.Status, *sl.Error = sl.Running, ""
	})
	if err != nil {
		acked()
		return nil, err
	}

	job, err := call(ctx, id)
	acked()
	if err != nil {
		s.logger.Warn("generation request failed", zap.String("kind", string(kind)), zap.Int64("id", id),
			zap.String("slot", slot), zap.Error(err))
		_ = s.setSlot(kind, id, slot, func(sl models.MediaSlot) {
			if sl.InProgress() {
				*sl.Status, *sl.Error = sl.Failed, err.Error()
			}
		})
		return nil, fmt.Errorf("generate %s for %s %d: %w", slot, kind, id, err)
	}
	s.logger.Info("generation submitted", zap.String("kind", string(kind)), zap.Int64("id", id),
		zap.String("slot", slot), zap.String("job_id", job.ID))
	s.poller.Kick()
	return job, nil
}

func (s *Session) setSlot(kind models.EntityKind, id int64, name string, fn func(models.MediaSlot)) error {
	return s.store.Mutate(func(snap *models.ProjectSnapshot) error {
		slots := entitySlots(snap, kind, id)
		if slots == nil {
			return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		sl, ok := slotByName(slots, name)
		if !ok {
			return fmt.Errorf("%s has no %s media: %w", kind, name, ErrInvalidArgument)
		}
		fn(sl)
		return nil
	})
}
