package api

import (
	"net/http"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
	"github.com/oumi-open-ai/AIShortX-sub001/service"

	"github.com/gin-gonic/gin"
)

type generateBody struct {
	Model string `json:"model"`
}

// GenerateImage 生图：POST /v1/api/projects/:project_id/<kind>/:id/generate/image
func (h *Handler) GenerateImage(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.submit(c, kind, models.TaskTypeImage)
	}
}

// GenerateVideo 分镜生视频：POST /v1/api/projects/:project_id/storyboards/:id/generate/video?variant=primary|enhanced
func (h *Handler) GenerateVideo(c *gin.Context) {
	taskType := models.TaskTypeVideo
	switch c.DefaultQuery("variant", "primary") {
	case "primary":
	case "enhanced":
		taskType = models.TaskTypeEnhancedVideo
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "variant must be primary or enhanced"})
		return
	}
	h.submit(c, models.KindStoryboard, taskType)
}

// RegisterCharacter 角色身份注册：POST /v1/api/projects/:project_id/characters/:id/register
func (h *Handler) RegisterCharacter(c *gin.Context) {
	h.submit(c, models.KindCharacter, models.TaskTypeRegister)
}

func (h *Handler) submit(c *gin.Context, kind models.EntityKind, taskType string) {
	pid, ok := projectID(c)
	if !ok {
		return
	}
	id, ok := durableParam(c)
	if !ok {
		return
	}
	var body generateBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if h.Gen == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation is not configured"})
		return
	}
	task, err := h.Gen.Submit(c.Request.Context(), service.GenerateRequest{
		Kind:      kind,
		ProjectID: pid,
		EntityID:  id,
		Type:      taskType,
		Model:     body.Model,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": task.ID, "status": task.Status})
}
