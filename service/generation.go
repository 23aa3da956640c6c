package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnsupported is returned when the entity kind cannot run the requested generation.
	ErrUnsupported = errors.New("generation not supported for this entity")
	// ErrMissingSource is returned when a generation needs an input image that does not exist yet.
	ErrMissingSource = errors.New("entity has no source image")
)

// GenerateRequest names the entity and the kind of job to start.
type GenerateRequest struct {
	Kind      models.EntityKind
	ProjectID int64
	EntityID  int64
	Type      string
	Model     string
}

// Generator turns generation requests into queued tasks and cancels them when their
// target goes away.
type Generator struct {
	DB             *gorm.DB
	Queue          Enqueuer
	WorkerEndpoint string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

func NewGenerator(db *gorm.DB, queue Enqueuer, workerEndpoint string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		DB:             db,
		Queue:          queue,
		WorkerEndpoint: strings.TrimRight(workerEndpoint, "/"),
		HTTPClient:     &http.Client{Timeout: 10 * time.Second},
		Logger:         logger,
	}
}

// Submit creates the task, marks the target slot generating and enqueues the job. A
// previous job on the same slot is cancelled first.
func (g *Generator) Submit(ctx context.Context, req GenerateRequest) (*models.Task, error) {
	project, err := models.GetProjectByID(g.DB, req.ProjectID)
	if err != nil {
		return nil, err
	}
	row, err := models.GetEntity(g.DB, req.Kind, req.ProjectID, req.EntityID)
	if err != nil {
		return nil, err
	}
	params, err := buildParameters(row, req.Type, project.AspectRatio)
	if err != nil {
		return nil, err
	}
	params.Model = req.Model

	task := &models.Task{
		ID:         uuid.NewString(),
		ProjectID:  req.ProjectID,
		TargetKind: req.Kind,
		TargetID:   req.EntityID,
		Type:       req.Type,
		Parameters: params,
	}
	g.cancelActive(ctx, req.Kind, req.EntityID, task.Slot(), "superseded by a new generation")

	if err := models.CreateTask(g.DB, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := models.MarkGenerating(g.DB, req.Kind, req.ProjectID, req.EntityID, task.Slot()); err != nil {
		_ = task.UpdateStatus(g.DB, models.TaskStatusFailed, nil, err.Error())
		return nil, err
	}
	if err := EnqueueTask(g.Queue, task.ID); err != nil {
		_ = models.ApplyGenerationResult(g.DB, req.Kind, req.ProjectID, req.EntityID, task.Slot(), "", "任务入队失败")
		_ = task.UpdateStatus(g.DB, models.TaskStatusFailed, nil, err.Error())
		return nil, err
	}
	g.Logger.Info("generation submitted", zap.String("task_id", task.ID), zap.String("type", task.Type),
		zap.String("target", string(req.Kind)), zap.Int64("target_id", req.EntityID))
	return task, nil
}

// CancelEntity aborts every active task of a deleted entity.
func (g *Generator) CancelEntity(ctx context.Context, kind models.EntityKind, id int64) {
	g.cancelActive(ctx, kind, id, "", "target entity deleted")
}

func (g *Generator) cancelActive(ctx context.Context, kind models.EntityKind, id int64, slot, reason string) {
	tasks, err := models.ActiveTasksFor(g.DB, kind, id)
	if err != nil {
		g.Logger.Warn("list active tasks failed", zap.Error(err))
		return
	}
	for i := range tasks {
		t := &tasks[i]
		if slot != "" && t.Slot() != slot {
			continue
		}
		if err := t.UpdateStatus(g.DB, models.TaskStatusCancelled, nil, reason); err != nil {
			g.Logger.Warn("cancel task failed", zap.String("task_id", t.ID), zap.Error(err))
		}
		CancelPollTask(t.ID)
		if t.JobID != "" && g.WorkerEndpoint != "" {
			if err := CancelWorkerJob(ctx, g.HTTPClient, g.WorkerEndpoint, t.JobID); err != nil {
				g.Logger.Warn("cancel worker job failed", zap.String("job_id", t.JobID), zap.Error(err))
			}
		}
	}
}

func buildParameters(row interface{}, taskType, aspectRatio string) (models.TaskParameters, error) {
	params := models.TaskParameters{AspectRatio: aspectRatio}
	switch r := row.(type) {
	case *models.Character:
		params.Name = r.Name
		params.Prompt = assetPrompt(&r.Asset)
		params.ImageURL = r.ImageURL
		switch taskType {
		case models.TaskTypeImage:
		case models.TaskTypeRegister:
			if r.ImageURL == "" {
				return params, ErrMissingSource
			}
		default:
			return params, ErrUnsupported
		}
	case *models.Scene:
		if taskType != models.TaskTypeImage {
			return params, ErrUnsupported
		}
		params.Name = r.Name
		params.Prompt = assetPrompt(&r.Asset)
	case *models.Prop:
		if taskType != models.TaskTypeImage {
			return params, ErrUnsupported
		}
		params.Name = r.Name
		params.Prompt = assetPrompt(&r.Asset)
	case *models.Storyboard:
		params.Prompt = r.Prompt
		if params.Prompt == "" {
			params.Prompt = r.Text
		}
		params.Duration = r.Duration
		params.ImageURL = r.ImageURL
		params.ReferenceImageURL = r.ReferenceImageURL
		switch taskType {
		case models.TaskTypeImage:
		case models.TaskTypeVideo, models.TaskTypeEnhancedVideo:
			if r.ImageURL == "" && r.ReferenceImageURL == "" {
				return params, ErrMissingSource
			}
		default:
			return params, ErrUnsupported
		}
	default:
		return params, ErrUnsupported
	}
	return params, nil
}

func assetPrompt(a *models.Asset) string {
	if a.Description == "" {
		return a.Name
	}
	return a.Name + ", " + a.Description
}
