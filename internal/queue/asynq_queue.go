package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const listPageSize = 100

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskInspector interface {
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

type AsynqConfig struct {
	Queue     string
	Retention time.Duration
	Retry     RetryConfig
}

// AsynqQueue implements JobQueue on top of asynq. Delayed jobs live in the
// scheduled set until due.
type AsynqQueue struct {
	client    taskEnqueuer
	inspector taskInspector
	cfg       AsynqConfig
	logger    *zap.Logger
}

func NewAsynqQueue(client *asynq.Client, inspector *asynq.Inspector, cfg AsynqConfig, logger *zap.Logger) *AsynqQueue {
	return newAsynqQueue(client, inspector, cfg, logger)
}

func newAsynqQueue(client taskEnqueuer, inspector taskInspector, cfg AsynqConfig, logger *zap.Logger) *AsynqQueue {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsynqQueue{client: client, inspector: inspector, cfg: cfg, logger: logger}
}

func (q *AsynqQueue) Name() string {
	return q.cfg.Queue
}

func (q *AsynqQueue) Enqueue(ctx context.Context, payload JobPayload, opts EnqueueOptions) (*JobHandle, error) {
	if opts.JobID == "" {
		return nil, errors.New("enqueue: job id is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	body, err := EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	task := asynq.NewTask(TaskTypePublishPost, body)
	taskOpts := []asynq.Option{
		asynq.TaskID(opts.JobID),
		asynq.Queue(q.cfg.Queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
	}
	if q.cfg.Retention > 0 {
		taskOpts = append(taskOpts, asynq.Retention(q.cfg.Retention))
	}

	handle := &JobHandle{ID: opts.JobID, Queue: q.cfg.Queue}
	attempt := 0
	err = retryWithBackoff(ctx, q.cfg.Retry, func() error {
		attempt++
		info, enqueueErr := q.client.EnqueueContext(ctx, task, taskOpts...)
		if enqueueErr == nil {
			handle = &JobHandle{ID: info.ID, Queue: info.Queue}
			return nil
		}
		// An earlier attempt may have landed with its reply lost.
		if attempt > 1 && errors.Is(enqueueErr, asynq.ErrTaskIDConflict) {
			q.logger.Warn("job already present after retried enqueue", zap.String("job_id", opts.JobID))
			return nil
		}
		return enqueueErr
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", opts.JobID, err)
	}

	q.logger.Debug("job enqueued",
		zap.String("job_id", handle.ID),
		zap.String("post_id", payload.PostID),
		zap.String("kind", string(payload.Kind)),
		zap.Duration("delay", delay),
	)

	return handle, nil
}

func (q *AsynqQueue) GetJobs(ctx context.Context, states ...JobState) ([]*Job, error) {
	var jobs []*Job
	for _, state := range states {
		for _, list := range q.listersFor(state) {
			infos, err := q.listAll(ctx, list)
			if err != nil {
				return nil, fmt.Errorf("list %s jobs: %w", state, err)
			}
			for _, info := range infos {
				job, err := toJob(info)
				if err != nil {
					q.logger.Warn("skipping unreadable job", zap.String("job_id", info.ID), zap.Error(err))
					continue
				}
				if job != nil {
					jobs = append(jobs, job)
				}
			}
		}
	}
	return jobs, nil
}

// Remove deletes a job that has not started; started or finished jobs return an error.
func (q *AsynqQueue) Remove(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("remove: nil job")
	}
	err := retryWithBackoff(ctx, q.cfg.Retry, func() error {
		return q.inspector.DeleteTask(q.cfg.Queue, job.ID)
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", job.ID, err)
	}
	return nil
}

func (q *AsynqQueue) Counts(ctx context.Context) (Counts, error) {
	var info *asynq.QueueInfo
	err := retryWithBackoff(ctx, q.cfg.Retry, func() error {
		var infoErr error
		info, infoErr = q.inspector.GetQueueInfo(q.cfg.Queue)
		return infoErr
	})
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return Counts{}, nil
		}
		return Counts{}, fmt.Errorf("queue info: %w", err)
	}

	return Counts{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
	}, nil
}

type lister func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

func (q *AsynqQueue) listersFor(state JobState) []lister {
	switch state {
	case StateWaiting:
		return []lister{q.inspector.ListPendingTasks}
	case StateDelayed:
		return []lister{q.inspector.ListScheduledTasks, q.inspector.ListRetryTasks}
	case StateActive:
		return []lister{q.inspector.ListActiveTasks}
	case StateCompleted:
		return []lister{q.inspector.ListCompletedTasks}
	case StateFailed:
		return []lister{q.inspector.ListArchivedTasks}
	}
	return nil
}

func (q *AsynqQueue) listAll(ctx context.Context, list lister) ([]*asynq.TaskInfo, error) {
	var all []*asynq.TaskInfo
	for page := 1; ; page++ {
		var infos []*asynq.TaskInfo
		err := retryWithBackoff(ctx, q.cfg.Retry, func() error {
			var listErr error
			infos, listErr = list(q.cfg.Queue, asynq.PageSize(listPageSize), asynq.Page(page))
			return listErr
		})
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				return all, nil
			}
			return nil, err
		}
		all = append(all, infos...)
		if len(infos) < listPageSize {
			return all, nil
		}
	}
}

func toJob(info *asynq.TaskInfo) (*Job, error) {
	if info.Type != TaskTypePublishPost {
		return nil, nil
	}
	payload, err := DecodePayload(info.Payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:        info.ID,
		State:     toJobState(info.State),
		Payload:   payload,
		ProcessAt: info.NextProcessAt,
	}, nil
}

func toJobState(state asynq.TaskState) JobState {
	switch state {
	case asynq.TaskStatePending:
		return StateWaiting
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return StateDelayed
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	}
	return JobState(state.String())
}
