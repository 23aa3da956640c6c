package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
	"github.com/oumi-open-ai/AIShortX-sub001/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler serves the project editing API.
type Handler struct {
	DB     *gorm.DB
	Gen    *service.Generator
	Logger *zap.Logger
}

func NewHandler(db *gorm.DB, gen *service.Generator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{DB: db, Gen: gen, Logger: logger}
}

// ErrStillSaving is answered with 409 when a request names a placeholder id.
var ErrStillSaving = errors.New("entity is still saving, retry shortly")

func projectID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("project_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return id, true
}

// durableParam reads the :id path parameter and refuses placeholder ids.
func durableParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	if models.IsPlaceholderID(id) {
		c.JSON(http.StatusConflict, gin.H{"error": ErrStillSaving.Error()})
		return 0, false
	}
	return id, true
}

func episodeQuery(c *gin.Context) (*int64, bool) {
	raw := c.Query("episode_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid episode id"})
		return nil, false
	}
	return &id, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUnsupported):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrMissingSource):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Collections maps the plural URL segment of each collection to its entity kind.
var Collections = map[string]models.EntityKind{
	"characters":  models.KindCharacter,
	"scenes":      models.KindScene,
	"props":       models.KindProp,
	"storyboards": models.KindStoryboard,
}
