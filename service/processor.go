package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 30 * time.Minute
)

// CancelWorkerJob asks the worker to abort a running job.
func CancelWorkerJob(ctx context.Context, client *http.Client, workerAddr, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, workerAddr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("create delete request failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("worker delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		var respData map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&respData)
		return fmt.Errorf("worker delete status: %d, body: %+v", resp.StatusCode, respData)
	}
	return nil
}

// poll 取消注册表（taskID -> cancelFunc）
var pollCancelRegistry = struct {
	sync.Mutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

// RegisterPollCancel 注册轮询的 cancelFunc
func RegisterPollCancel(taskID string, cancel context.CancelFunc) {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	pollCancelRegistry.m[taskID] = cancel
}

// UnregisterPollCancel 注销轮询的 cancelFunc（在轮询结束时调用）
func UnregisterPollCancel(taskID string) {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	delete(pollCancelRegistry.m, taskID)
}

// CancelPollTask 取消正在轮询的任务，返回是否实际找到并取消
func CancelPollTask(taskID string) bool {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	if cancel, ok := pollCancelRegistry.m[taskID]; ok {
		cancel()
		delete(pollCancelRegistry.m, taskID)
		return true
	}
	return false
}

// Processor 处理队列任务：提交到 worker、轮询结果、转存并写回实体
type Processor struct {
	DB             *gorm.DB
	WorkerEndpoint string
	Store          ObjectStore
	Logger         *zap.Logger
	HTTPClient     *http.Client
	PollInterval   time.Duration
	// PollTimeout bounds a single job; zero means the default of 30 minutes.
	PollTimeout time.Duration
}

func NewProcessor(db *gorm.DB, workerEndpoint string, store ObjectStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		DB:             db,
		WorkerEndpoint: strings.TrimRight(workerEndpoint, "/"),
		Store:          store,
		Logger:         logger,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		PollInterval:   defaultPollInterval,
		PollTimeout:    defaultPollTimeout,
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(opt asynq.RedisClientOpt, concurrency int) (*asynq.Server, error) {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateTask, p.HandleGenerateTask)

	p.Logger.Info("starting task processor", zap.Int("concurrency", concurrency))
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("could not run task processor: %w", err)
	}
	return srv, nil
}

// HandleGenerateTask 队列入口
func (p *Processor) HandleGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	task, err := models.GetTaskByID(p.DB, payload.TaskID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("task %s not found: %w", payload.TaskID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	return p.Process(ctx, task)
}

// Process runs one generation task to completion.
func (p *Processor) Process(ctx context.Context, task *models.Task) error {
	log := p.Logger.With(zap.String("task_id", task.ID), zap.String("type", task.Type),
		zap.String("target", string(task.TargetKind)), zap.Int64("target_id", task.TargetID))
	if task.Terminal() {
		log.Info("task already terminal, skipping", zap.String("status", task.Status))
		return nil
	}
	if err := task.UpdateStatus(p.DB, models.TaskStatusProcessing, nil, ""); err != nil {
		log.Warn("mark task processing failed", zap.Error(err))
	}

	jobID := task.JobID
	if jobID == "" {
		var err error
		jobID, err = p.dispatchWorkerRequest(ctx, task)
		if err != nil {
			log.Warn("worker request failed", zap.Error(err))
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				p.finish(task, nil, "", fmt.Sprintf("worker request failed: %v", err))
				return nil
			}
			return err // 返回 err 触发重试
		}
		if err := task.SetJobID(p.DB, jobID); err != nil {
			log.Warn("record job id failed", zap.Error(err))
		}
	}
	log.Info("job submitted, polling", zap.String("job_id", jobID))

	pollCtx, cancel := context.WithCancel(ctx)
	RegisterPollCancel(task.ID, cancel)
	defer func() {
		UnregisterPollCancel(task.ID)
		cancel()
	}()

	result, err := p.pollJobResult(pollCtx, task, jobID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("polling cancelled")
			return nil
		}
		log.Warn("job failed", zap.Error(err))
		p.finish(task, nil, "", err.Error())
		return nil // 业务失败，不再重试
	}

	value, err := p.storeResult(ctx, task, result)
	if err != nil {
		log.Warn("store result failed", zap.Error(err))
		p.finish(task, result, "", err.Error())
		return nil
	}
	p.finish(task, result, value, "")
	log.Info("task completed")
	return nil
}

// finish writes the outcome into the target entity and closes the task. A task that
// was cancelled meanwhile is left alone.
func (p *Processor) finish(task *models.Task, result *models.TaskResult, value, errMsg string) {
	current, err := models.GetTaskByID(p.DB, task.ID)
	if err == nil && current.Status == models.TaskStatusCancelled {
		return
	}
	err = models.ApplyGenerationResult(p.DB, task.TargetKind, task.ProjectID, task.TargetID, task.Slot(), value, errMsg)
	if errors.Is(err, models.ErrNotFound) {
		_ = task.UpdateStatus(p.DB, models.TaskStatusCancelled, nil, "target entity deleted")
		return
	}
	if err != nil {
		p.Logger.Error("write generation result failed", zap.String("task_id", task.ID), zap.Error(err))
		errMsg = err.Error()
	}
	status := models.TaskStatusSuccess
	if errMsg != "" {
		status = models.TaskStatusFailed
	}
	var res interface{}
	if result != nil {
		res = result
	}
	if err := task.UpdateStatus(p.DB, status, res, errMsg); err != nil {
		p.Logger.Error("update task status failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// dispatchWorkerRequest 发送 POST /v1/generate，返回 job_id
func (p *Processor) dispatchWorkerRequest(ctx context.Context, task *models.Task) (string, error) {
	reqBody := map[string]interface{}{
		"id":          task.ID,
		"project_id":  task.ProjectID,
		"type":        task.Type,
		"target_kind": task.TargetKind,
		"target_id":   task.TargetID,
		"parameters":  task.Parameters,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.WorkerEndpoint+"/v1/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var respData struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}
	// 优先返回根节点的 id
	if respData.ID != "" {
		return respData.ID, nil
	}
	if respData.JobID != "" {
		return respData.JobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

type workerJob struct {
	Status   string            `json:"status"`
	Progress int               `json:"progress"`
	Message  string            `json:"message"`
	Result   models.TaskResult `json:"result"`
	Error    string            `json:"error"`
}

// pollJobResult 轮询 GET /v1/jobs/{job_id} 直到完成
func (p *Processor) pollJobResult(ctx context.Context, task *models.Task, jobID string) (*models.TaskResult, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", p.WorkerEndpoint, jobID)

	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeoutDuration := p.PollTimeout
	if timeoutDuration <= 0 {
		timeoutDuration = defaultPollTimeout
	}
	timeout := time.NewTimer(timeoutDuration)
	defer timeout.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-timeout.C:
			return nil, fmt.Errorf("polling timeout after %s", timeoutDuration)
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %w", ctx.Err())
		case <-ticker.C:
			job, err := p.fetchJob(ctx, jobURL)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				p.Logger.Debug("poll error, retrying", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			switch strings.ToLower(job.Status) {
			case models.TaskStatusSuccess, "success", "completed", "succeeded":
				return &job.Result, nil
			case models.TaskStatusFailed, "error":
				if job.Error == "" {
					job.Error = "worker reported failure"
				}
				return nil, errors.New(job.Error)
			case models.TaskStatusCancelled, "canceled":
				return nil, fmt.Errorf("job cancelled by worker")
			}
			if job.Progress != lastProgress {
				lastProgress = job.Progress
				p.DB.Model(task).Updates(map[string]interface{}{"progress": job.Progress, "message": job.Message})
			}
		}
	}
}

func (p *Processor) fetchJob(ctx context.Context, jobURL string) (*workerJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker status code: %d", resp.StatusCode)
	}
	var job workerJob
	if err := json.Unmarshal(body, &job); err != nil {
		if len(body) > 2000 {
			body = append(body[:2000], "..."...)
		}
		return nil, fmt.Errorf("decode job: %v, body: %s", err, body)
	}
	return &job, nil
}

// storeResult returns the value written into the target slot: the external id for
// identity registration, otherwise the URL of the media re-hosted in the object store.
func (p *Processor) storeResult(ctx context.Context, task *models.Task, result *models.TaskResult) (string, error) {
	if task.Type == models.TaskTypeRegister {
		if result.ResourceID != "" {
			return result.ResourceID, nil
		}
		if result.ResourceURL != "" {
			return result.ResourceURL, nil
		}
		return "", fmt.Errorf("registration result missing resource id")
	}
	if result.ResourceURL == "" {
		return "", fmt.Errorf("resource url is empty")
	}
	if p.Store == nil {
		return result.ResourceURL, nil
	}
	return p.downloadAndUpload(ctx, result.ResourceURL,
		objectNameFor(string(task.TargetKind), task.TargetID, task.Slot(), result.ResourceURL))
}

func (p *Processor) downloadAndUpload(ctx context.Context, sourceURL, objectName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return p.Store.Upload(ctx, resp.Body, objectName, resp.ContentLength)
}
