package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"
	// cancelled: 目标实体被删除或重新生成时取消
	TaskStatusCancelled = "cancelled"

	TaskTypeImage         = "generate_image"          // 角色/场景/道具/分镜 -> 生图
	TaskTypeVideo         = "generate_video"          // 分镜 -> 视频
	TaskTypeEnhancedVideo = "generate_enhanced_video" // 分镜 -> 高清视频
	TaskTypeRegister      = "register_character"      // 角色 -> 外部角色身份注册
)

type Task struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID  int64          `gorm:"index" json:"projectId"`
	TargetKind EntityKind     `gorm:"size:20;index:idx_task_target" json:"targetKind"`
	TargetID   int64          `gorm:"index:idx_task_target" json:"targetId"`
	Type       string         `gorm:"size:50" json:"type"`
	Status     string         `gorm:"size:20" json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `gorm:"type:text" json:"message"`
	Parameters TaskParameters `gorm:"type:json" json:"parameters"`
	Result     TaskResult     `gorm:"type:json" json:"result"`
	JobID      string         `gorm:"size:128" json:"jobId"`
	Error      string         `gorm:"type:text" json:"error"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (Task) TableName() string {
	return "task"
}

// Slot returns the media slot name this task writes into.
func (t *Task) Slot() string {
	switch t.Type {
	case TaskTypeVideo:
		return "video"
	case TaskTypeEnhancedVideo:
		return "highRes"
	case TaskTypeRegister:
		return "identity"
	}
	return "image"
}

func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

type TaskParameters struct {
	Model             string `json:"model,omitempty"`
	Prompt            string `json:"prompt,omitempty"`
	AspectRatio       string `json:"aspect_ratio,omitempty"`
	Duration          int    `json:"duration,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
	Name              string `json:"name,omitempty"`
}

// TaskResult 仅保留最小资源定位信息
type TaskResult struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	ResourceURL  string `json:"resource_url"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (p TaskParameters) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (p *TaskParameters) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func (r TaskResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *TaskResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	}
	return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
}

func CreateTask(db *gorm.DB, t *Task) error {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	return db.Create(t).Error
}

func GetTaskByID(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ActiveTasksFor lists the pending/processing tasks targeting one entity.
func ActiveTasksFor(db *gorm.DB, kind EntityKind, id int64) ([]Task, error) {
	var tasks []Task
	err := db.Where("target_kind = ? AND target_id = ? AND status IN ?", kind, id,
		[]string{TaskStatusPending, TaskStatusProcessing}).Find(&tasks).Error
	return tasks, err
}

func (t *Task) UpdateStatus(db *gorm.DB, status string, result interface{}, errMsg string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case TaskStatusProcessing:
		if t.StartedAt == nil {
			updates["started_at"] = now
		}
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		updates["finished_at"] = now
		if status == TaskStatusSuccess {
			updates["progress"] = 100
		}
	}
	if result != nil {
		jsonBytes, err := json.Marshal(result)
		if err != nil {
			zap.L().Warn("序列化任务结果失败", zap.String("task_id", t.ID), zap.Error(err))
		} else {
			updates["result"] = string(jsonBytes)
		}
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if err := db.Model(t).Updates(updates).Error; err != nil {
		return err
	}
	t.Status = status
	if errMsg != "" {
		t.Error = errMsg
	}
	return nil
}

// SetJobID 记录 worker 返回的 job_id，便于取消
func (t *Task) SetJobID(db *gorm.DB, jobID string) error {
	t.JobID = jobID
	return db.Model(t).Updates(map[string]interface{}{"job_id": jobID, "updated_at": time.Now()}).Error
}
