package api

import (
	"net/http"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TaskPushInterval is how often the websocket re-reads a task.
var TaskPushInterval = time.Second

// 任务进度 WebSocket 推送：以数据库为来源，状态或进度变化时推送，终态后关闭
func (h *Handler) TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	t, err := models.GetTaskByID(h.DB, taskID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "task not found: " + err.Error()})
		return
	}
	if err := conn.WriteJSON(t); err != nil || t.Terminal() {
		return
	}

	ticker := time.NewTicker(TaskPushInterval)
	defer ticker.Stop()

	prevStatus, prevProgress := t.Status, t.Progress
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
		cur, err := models.GetTaskByID(h.DB, taskID)
		if err != nil {
			continue
		}
		if cur.Status == prevStatus && cur.Progress == prevProgress {
			continue
		}
		if err := conn.WriteJSON(cur); err != nil {
			return
		}
		prevStatus, prevProgress = cur.Status, cur.Progress
		if cur.Terminal() {
			return
		}
	}
}

// 查询任务状态：GET /v1/api/tasks/:task_id
func (h *Handler) GetTaskStatus(c *gin.Context) {
	t, err := models.GetTaskByID(h.DB, c.Param("task_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}
