package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"evolabeler/config"

	"github.com/redis/go-redis/v9"
)

const (
	jobStatusKeyPrefix = "evo-jobs:"
	jobStatusTTL       = 7 * 24 * time.Hour
)

var ErrRedisNotInitialized = errors.New("redis client is not initialized")
var ErrJobIDRequired = errors.New("job id is required")
var ErrJobStatusNotFound = errors.New("job status not found")

// JobStatus 是对外可见的任务进度快照，落在 Redis 里供轮询。
type JobStatus struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Round     int       `json:"round,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStatusService 实现 StatusPublisher，把任务状态写入 Redis。
type JobStatusService struct{}

func NewJobStatusService() *JobStatusService {
	return &JobStatusService{}
}

func jobStatusKey(jobID string) string {
	return jobStatusKeyPrefix + jobID
}

// PublishStatus 覆写任务的当前状态快照。
func (s *JobStatusService) PublishStatus(ctx context.Context, jobID, status, message string) error {
	return s.PublishRoundStatus(ctx, jobID, status, message, 0)
}

// PublishRoundStatus 附带轮次号的状态写入。
func (s *JobStatusService) PublishRoundStatus(ctx context.Context, jobID, status, message string, round int) error {
	if config.RedisClient == nil {
		return ErrRedisNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	trimmedJobID := strings.TrimSpace(jobID)
	if trimmedJobID == "" {
		return ErrJobIDRequired
	}

	snapshot := JobStatus{
		JobID:     trimmedJobID,
		Status:    status,
		Message:   message,
		Round:     round,
		UpdatedAt: time.Now(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal job status failed: %w", err)
	}

	err = config.RedisClient.Set(ctx, jobStatusKey(trimmedJobID), payload, jobStatusTTL).Err()
	if err != nil {
		return fmt.Errorf("set job status failed (job_id=%s): %w", trimmedJobID, err)
	}
	return nil
}

// GetStatus 读取任务的当前状态快照。
func (s *JobStatusService) GetStatus(ctx context.Context, jobID string) (JobStatus, error) {
	if config.RedisClient == nil {
		return JobStatus{}, ErrRedisNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	trimmedJobID := strings.TrimSpace(jobID)
	if trimmedJobID == "" {
		return JobStatus{}, ErrJobIDRequired
	}

	raw, err := config.RedisClient.Get(ctx, jobStatusKey(trimmedJobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return JobStatus{}, ErrJobStatusNotFound
		}
		return JobStatus{}, fmt.Errorf("get job status failed (job_id=%s): %w", trimmedJobID, err)
	}

	payload := strings.TrimSpace(raw)
	if payload == "" {
		return JobStatus{}, ErrJobStatusNotFound
	}

	var status JobStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return JobStatus{}, fmt.Errorf("parse job status failed (job_id=%s): %w", trimmedJobID, err)
	}
	return status, nil
}
