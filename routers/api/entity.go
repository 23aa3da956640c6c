package api

import (
	"net/http"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SaveCollection 批量保存一个集合：POST /v1/api/projects/:project_id/<kind>
// 请求体为完整有序列表，占位 id 会被替换为持久 id，响应按请求顺序返回。
func (h *Handler) SaveCollection(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := projectID(c)
		if !ok {
			return
		}
		episode, ok := episodeQuery(c)
		if !ok {
			return
		}
		var (
			out interface{}
			n   int
			err error
		)
		switch kind {
		case models.KindCharacter:
			var in []models.Character
			if !bindList(c, &in) {
				return
			}
			n = len(in)
			out, err = models.SaveCharacters(h.DB, pid, episode, in)
		case models.KindScene:
			var in []models.Scene
			if !bindList(c, &in) {
				return
			}
			n = len(in)
			out, err = models.SaveScenes(h.DB, pid, episode, in)
		case models.KindProp:
			var in []models.Prop
			if !bindList(c, &in) {
				return
			}
			n = len(in)
			out, err = models.SaveProps(h.DB, pid, episode, in)
		case models.KindStoryboard:
			var in []models.Storyboard
			if !bindList(c, &in) {
				return
			}
			n = len(in)
			out, err = models.SaveStoryboards(h.DB, pid, episode, in)
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		h.Logger.Debug("collection saved", zap.Int64("project_id", pid), zap.String("kind", string(kind)), zap.Int("count", n))
		c.JSON(http.StatusOK, gin.H{"items": out})
	}
}

func bindList(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// DeleteEntity 删除单个实体并取消其进行中的生成任务：DELETE /v1/api/projects/:project_id/<kind>/:id
func (h *Handler) DeleteEntity(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := projectID(c)
		if !ok {
			return
		}
		id, ok := durableParam(c)
		if !ok {
			return
		}
		if err := models.DeleteEntity(h.DB, kind, pid, id); err != nil {
			h.fail(c, err)
			return
		}
		if h.Gen != nil {
			h.Gen.CancelEntity(c.Request.Context(), kind, id)
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

// PatchStoryboardMedia 仅更新分镜的媒体字段：PATCH /v1/api/projects/:project_id/storyboards/:id/media
func (h *Handler) PatchStoryboardMedia(c *gin.Context) {
	pid, ok := projectID(c)
	if !ok {
		return
	}
	id, ok := durableParam(c)
	if !ok {
		return
	}
	var patch models.StoryboardMediaPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sb, err := models.PatchStoryboardMedia(h.DB, pid, id, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"storyboard": sb})
}
