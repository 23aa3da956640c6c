package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeGenerateTask = "task:generate"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

// Enqueuer is the subset of *asynq.Client used to submit generation tasks.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var QueueClient Enqueuer

// InitQueue 初始化
func InitQueue(opt asynq.RedisClientOpt) *asynq.Client {
	c := asynq.NewClient(opt)
	QueueClient = c
	return c
}

// NewGenerateTask builds the queue task for one generation job.
func NewGenerateTask(taskID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeGenerateTask, payload,
		asynq.MaxRetry(3),             // 失败重试 3 次
		asynq.Timeout(40*time.Minute), // 视频生成较慢，需覆盖 30 分钟的轮询上限
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	), nil
}

// EnqueueTask 通用的生成任务入队接口
func EnqueueTask(q Enqueuer, taskID string) error {
	if q == nil {
		return fmt.Errorf("queue client not initialized")
	}
	task, err := NewGenerateTask(taskID)
	if err != nil {
		return err
	}
	info, err := q.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	zap.L().Info("task enqueued", zap.String("task_id", taskID), zap.String("queue_id", info.ID))
	return nil
}
