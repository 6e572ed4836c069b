package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const TaskTypePublishPost = "post:publish"

type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

type Kind string

const (
	KindPublish    Kind = "publish"
	KindPublishNow Kind = "publish-now"
	KindRetry      Kind = "retry"
)

// JobPayload is the body of every publish job. Jobs are never modified once enqueued.
type JobPayload struct {
	Kind        Kind       `json:"kind"`
	PostID      string     `json:"postId"`
	WorkspaceID string     `json:"workspaceId"`
	PlatformIDs []string   `json:"platformIds"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	IsRetry     bool       `json:"isRetry"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
}

func (p JobPayload) Validate() error {
	if p.PostID == "" {
		return fmt.Errorf("payload missing postId")
	}
	switch p.Kind {
	case KindPublish, KindPublishNow, KindRetry:
	default:
		return fmt.Errorf("payload has unknown kind %q", p.Kind)
	}
	return nil
}

func EncodePayload(p JobPayload) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePayload(data []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

type Job struct {
	ID        string
	State     JobState
	Payload   JobPayload
	ProcessAt time.Time
}

type JobHandle struct {
	ID    string
	Queue string
}

type EnqueueOptions struct {
	JobID string
	Delay time.Duration
}

type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// JobQueue is a durable delayed queue. Job ids are minted by the caller.
type JobQueue interface {
	Enqueue(ctx context.Context, payload JobPayload, opts EnqueueOptions) (*JobHandle, error)
	GetJobs(ctx context.Context, states ...JobState) ([]*Job, error)
	Remove(ctx context.Context, job *Job) error
	Counts(ctx context.Context) (Counts, error)
}

func ScheduleJobID(postID string, now time.Time) string {
	return fmt.Sprintf("post-%s-%d", postID, now.UnixMilli())
}

func PublishNowJobID(postID string, now time.Time) string {
	return fmt.Sprintf("publish-now-%s-%d", postID, now.UnixMilli())
}

func RetryJobID(postID string, now time.Time) string {
	return fmt.Sprintf("retry-%s-%d", postID, now.UnixMilli())
}
