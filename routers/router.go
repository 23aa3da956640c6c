package routers

import (
	"github.com/oumi-open-ai/AIShortX-sub001/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	Register(r, h)
	return r
}

// Register mounts every route of the editing API on r.
func Register(r *gin.Engine, h *api.Handler) {
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.PUT("/projects/:project_id", h.UpdateProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)
		v1.GET("/tasks/:task_id", h.GetTaskStatus)

		p := v1.Group("/projects/:project_id")
		for seg, kind := range api.Collections {
			p.POST("/"+seg, h.SaveCollection(kind))
			p.DELETE("/"+seg+"/:id", h.DeleteEntity(kind))
			p.POST("/"+seg+"/:id/generate/image", h.GenerateImage(kind))
		}
		p.PATCH("/storyboards/:id/media", h.PatchStoryboardMedia)
		p.POST("/storyboards/:id/generate/video", h.GenerateVideo)
		p.POST("/characters/:id/register", h.RegisterCharacter)
	}
	r.GET("/tasks/:task_id/wss", h.TaskProgressWebSocket)
}
