package session

import (
	"context"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

// Job is the acknowledgement of a submitted generation job.
type Job struct {
	ID     string `json:"jobId"`
	Status string `json:"status"`
}

type VideoVariant string

const (
	VideoPrimary  VideoVariant = "primary"
	VideoEnhanced VideoVariant = "enhanced"
)

// Remote is the backend the session persists to and polls. Implementations return
// an error wrapping ErrNotFound when an entity does not exist remotely.
type Remote interface {
	GetProject(ctx context.Context, projectID int64) (*models.ProjectSnapshot, error)

	// Bulk upserts: placeholder ids are created, durable ids updated. The response has
	// one entry per input, in input order, carrying the durable id.
	SaveCharacters(ctx context.Context, projectID int64, episodeID *int64, in []models.Character) ([]models.Character, error)
	SaveScenes(ctx context.Context, projectID int64, episodeID *int64, in []models.Scene) ([]models.Scene, error)
	SaveProps(ctx context.Context, projectID int64, episodeID *int64, in []models.Prop) ([]models.Prop, error)
	SaveStoryboards(ctx context.Context, projectID int64, episodeID *int64, in []models.Storyboard) ([]models.Storyboard, error)

	PatchFrameMedia(ctx context.Context, projectID, frameID int64, patch models.StoryboardMediaPatch) (*models.Storyboard, error)
	DeleteEntity(ctx context.Context, kind models.EntityKind, projectID, id int64) error
	UpdateProject(ctx context.Context, projectID int64, update models.ProjectUpdate) error

	GenerateImage(ctx context.Context, kind models.EntityKind, projectID, id int64, model string) (*Job, error)
	GenerateVideo(ctx context.Context, projectID, frameID int64, variant VideoVariant, model string) (*Job, error)
	RegisterCharacter(ctx context.Context, projectID, characterID int64) (*Job, error)
}
