package api

import (
	"net/http"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 创建项目：POST /v1/api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		AspectRatio string `json:"aspectRatio"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AspectRatio != "" && !models.ValidAspectRatio(req.AspectRatio) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid aspect ratio"})
		return
	}
	project := models.Project{Name: req.Name, AspectRatio: req.AspectRatio}
	if err := models.CreateProject(h.DB, &project); err != nil {
		h.fail(c, err)
		return
	}
	h.Logger.Info("project created", zap.Int64("project_id", project.ID))
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// 获取项目完整快照：GET /v1/api/projects/:project_id
func (h *Handler) GetProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}
	snap, err := models.GetProjectSnapshot(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// 更新项目元数据：PUT /v1/api/projects/:project_id
func (h *Handler) UpdateProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}
	var req models.ProjectUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AspectRatio != nil && !models.ValidAspectRatio(*req.AspectRatio) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid aspect ratio"})
		return
	}
	p, err := models.UpdateProject(h.DB, id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// 删除项目：DELETE /v1/api/projects/:project_id
func (h *Handler) DeleteProject(c *gin.Context) {
	id, ok := projectID(c)
	if !ok {
		return
	}
	if h.Gen != nil {
		snap, err := models.GetProjectSnapshot(h.DB, id)
		if err != nil {
			h.fail(c, err)
			return
		}
		for _, kind := range models.AllKinds {
			for entityID := range snap.Slots(kind) {
				h.Gen.CancelEntity(c.Request.Context(), kind, entityID)
			}
		}
	}
	if err := models.DeleteProject(h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
