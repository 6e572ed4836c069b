package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/cache"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultUpcomingLimit = 10
	defaultHistoryLimit  = 20
	maxListLimit         = 100

	queueStatsKey = "queue:stats"
)

func cancelMarkerKey(postID string) string {
	return "cancel:" + postID
}

type ScheduleOptions struct {
	Datetime  string
	Timezone  string
	Platforms []string
}

type ScheduleResult struct {
	Success     bool      `json:"success"`
	ScheduledAt time.Time `json:"scheduledAt"`
	JobID       string    `json:"jobId"`
}

type EnqueueResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

type PostHistory struct {
	Posts []*models.Post `json:"posts"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

type QueueManager interface {
	SchedulePost(ctx context.Context, postID, workspaceID string, opts ScheduleOptions) (*ScheduleResult, error)
	CancelScheduledPost(ctx context.Context, postID string) (bool, error)
	ReschedulePost(ctx context.Context, postID, workspaceID, datetime, timezone string) (*ScheduleResult, error)
	PublishNow(ctx context.Context, postID, workspaceID string) (*EnqueueResult, error)
	RetryFailedPost(ctx context.Context, postID, workspaceID string) (*EnqueueResult, error)
	GetUpcomingPosts(ctx context.Context, workspaceID string, limit int) ([]*models.Post, error)
	GetPostHistory(ctx context.Context, workspaceID string, page, limit int) (*PostHistory, error)
	GetQueueStats(ctx context.Context) (queue.Counts, error)
}

type QueueManagerConfig struct {
	CancelMarkerTTL time.Duration
	StatsCacheTTL   time.Duration
}

type queueManager struct {
	jobs   queue.JobQueue
	posts  repository.PostRepository
	links  repository.PlatformLinkRepository
	cache  cache.Cache
	cfg    QueueManagerConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewQueueManager(
	jobs queue.JobQueue,
	posts repository.PostRepository,
	links repository.PlatformLinkRepository,
	c cache.Cache,
	cfg QueueManagerConfig,
	logger *zap.Logger) QueueManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queueManager{
		jobs:   jobs,
		posts:  posts,
		links:  links,
		cache:  c,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (m *queueManager) SchedulePost(ctx context.Context, postID, workspaceID string, opts ScheduleOptions) (*ScheduleResult, error) {
	post, err := m.loadPost(ctx, postID, workspaceID)
	if err != nil {
		return nil, err
	}

	if post.Status != models.PostStatusDraft && post.Status != models.PostStatusFailed {
		return nil, &StatusError{Action: "schedule", Status: post.Status}
	}

	at, err := ParseScheduleTime(opts.Datetime, opts.Timezone)
	if err != nil {
		return nil, err
	}

	targets := accountIDs(post.PlatformLinks, func(l *models.PlatformLink) bool {
		return l.Status != models.PostStatusPublished
	})
	if len(targets) == 0 {
		return nil, invalidInput("post %s has no platforms left to publish", postID)
	}

	now := m.now()
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}

	jobID := queue.ScheduleJobID(postID, now)
	payload := queue.JobPayload{
		Kind:        queue.KindPublish,
		PostID:      postID,
		WorkspaceID: workspaceID,
		PlatformIDs: targets,
		ScheduledAt: &at,
		EnqueuedAt:  now,
	}
	if err := m.enqueue(ctx, payload, jobID, delay); err != nil {
		return nil, err
	}

	ok, err := m.posts.TransitionStatus(ctx, postID, []models.PostStatus{post.Status}, models.PostStatusScheduled, &at)
	if err != nil {
		m.logger.Error("job enqueued but post status not updated",
			zap.String("post_id", postID), zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("update post status: %w", err)
	}
	if !ok {
		m.removeJob(ctx, jobID, payload)
		return nil, ErrConcurrentModification
	}

	if err := m.links.SetStatus(ctx, postID, targets, models.PostStatusScheduled); err != nil {
		return nil, fmt.Errorf("update platform links: %w", err)
	}

	m.logger.Info("post scheduled",
		zap.String("post_id", postID),
		zap.String("job_id", jobID),
		zap.Time("scheduled_at", at),
		zap.Duration("delay", delay),
	)

	return &ScheduleResult{Success: true, ScheduledAt: at, JobID: jobID}, nil
}

func (m *queueManager) CancelScheduledPost(ctx context.Context, postID string) (bool, error) {
	removed, err := m.removePendingJobs(ctx, postID)
	if err != nil {
		return false, err
	}

	marker := []byte(m.now().UTC().Format(time.RFC3339Nano))
	if err := m.cache.Set(ctx, cancelMarkerKey(postID), marker, m.cfg.CancelMarkerTTL); err != nil {
		m.logger.Warn("failed to write cancel marker", zap.String("post_id", postID), zap.Error(err))
	}

	// Published, failed and in-flight posts keep their status; their links decide it.
	reset, err := m.posts.TransitionStatus(ctx, postID,
		[]models.PostStatus{models.PostStatusScheduled, models.PostStatusDraft}, models.PostStatusDraft, nil)
	if err != nil {
		return false, fmt.Errorf("reset post status: %w", err)
	}
	if reset {
		if err := m.links.ResetStatus(ctx, postID, models.PostStatusScheduled, models.PostStatusDraft); err != nil {
			return false, fmt.Errorf("reset platform links: %w", err)
		}
	}

	m.logger.Info("scheduled post cancelled",
		zap.String("post_id", postID), zap.Int("jobs_removed", removed), zap.Bool("status_reset", reset))
	return true, nil
}

func (m *queueManager) ReschedulePost(ctx context.Context, postID, workspaceID, datetime, timezone string) (*ScheduleResult, error) {
	post, err := m.loadPost(ctx, postID, workspaceID)
	if err != nil {
		return nil, err
	}
	switch post.Status {
	case models.PostStatusPublishing, models.PostStatusPublished:
		return nil, &StatusError{Action: "reschedule", Status: post.Status}
	}
	if _, err := ParseScheduleTime(datetime, timezone); err != nil {
		return nil, err
	}

	if _, err := m.CancelScheduledPost(ctx, postID); err != nil {
		return nil, err
	}
	return m.SchedulePost(ctx, postID, workspaceID, ScheduleOptions{Datetime: datetime, Timezone: timezone})
}

func (m *queueManager) PublishNow(ctx context.Context, postID, workspaceID string) (*EnqueueResult, error) {
	post, err := m.loadPost(ctx, postID, workspaceID)
	if err != nil {
		return nil, err
	}
	if post.Status == models.PostStatusPublishing {
		return nil, &StatusError{Action: "publish", Status: post.Status}
	}

	targets := accountIDs(post.PlatformLinks, nil)
	if len(targets) == 0 {
		return nil, invalidInput("post %s has no platforms", postID)
	}

	if _, err := m.removePendingJobs(ctx, postID); err != nil {
		return nil, err
	}

	now := m.now()
	jobID := queue.PublishNowJobID(postID, now)
	payload := queue.JobPayload{
		Kind:        queue.KindPublishNow,
		PostID:      postID,
		WorkspaceID: workspaceID,
		PlatformIDs: targets,
		EnqueuedAt:  now,
	}
	if err := m.enqueue(ctx, payload, jobID, 0); err != nil {
		return nil, err
	}

	m.logger.Info("post queued for immediate publish", zap.String("post_id", postID), zap.String("job_id", jobID))
	return &EnqueueResult{Success: true, JobID: jobID}, nil
}

func (m *queueManager) RetryFailedPost(ctx context.Context, postID, workspaceID string) (*EnqueueResult, error) {
	post, err := m.loadPost(ctx, postID, workspaceID)
	if err != nil {
		return nil, err
	}
	if post.Status != models.PostStatusFailed {
		return nil, &StatusError{Action: "retry", Status: post.Status}
	}

	failed := accountIDs(post.PlatformLinks, func(l *models.PlatformLink) bool {
		return l.Status == models.PostStatusFailed
	})
	if len(failed) == 0 {
		return nil, ErrNothingToRetry
	}

	now := m.now()
	jobID := queue.RetryJobID(postID, now)
	payload := queue.JobPayload{
		Kind:        queue.KindRetry,
		PostID:      postID,
		WorkspaceID: workspaceID,
		PlatformIDs: failed,
		IsRetry:     true,
		EnqueuedAt:  now,
	}
	if err := m.enqueue(ctx, payload, jobID, 0); err != nil {
		return nil, err
	}

	ok, err := m.posts.TransitionStatus(ctx, postID, []models.PostStatus{models.PostStatusFailed}, models.PostStatusScheduled, post.ScheduledAt)
	if err != nil {
		m.logger.Error("retry job enqueued but post status not updated",
			zap.String("post_id", postID), zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("update post status: %w", err)
	}
	if !ok {
		m.removeJob(ctx, jobID, payload)
		return nil, ErrConcurrentModification
	}

	if err := m.links.SetStatus(ctx, postID, failed, models.PostStatusScheduled); err != nil {
		return nil, fmt.Errorf("update platform links: %w", err)
	}

	m.logger.Info("failed platforms queued for retry",
		zap.String("post_id", postID), zap.String("job_id", jobID), zap.Strings("platform_ids", failed))
	return &EnqueueResult{Success: true, JobID: jobID}, nil
}

func (m *queueManager) GetUpcomingPosts(ctx context.Context, workspaceID string, limit int) ([]*models.Post, error) {
	now := m.now()
	filter := models.PostFilter{
		WorkspaceID:    workspaceID,
		Statuses:       []models.PostStatus{models.PostStatusScheduled},
		ScheduledAfter: &now,
		Order:          models.OrderScheduledAsc,
	}
	return m.posts.List(ctx, filter, models.Pagination{Page: 1, Limit: clampLimit(limit, defaultUpcomingLimit)})
}

func (m *queueManager) GetPostHistory(ctx context.Context, workspaceID string, page, limit int) (*PostHistory, error) {
	if page < 1 {
		page = 1
	}
	limit = clampLimit(limit, defaultHistoryLimit)

	filter := models.PostFilter{
		WorkspaceID: workspaceID,
		Statuses:    []models.PostStatus{models.PostStatusPublished, models.PostStatusFailed},
		Order:       models.OrderUpdatedDesc,
	}

	total, err := m.posts.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	posts, err := m.posts.List(ctx, filter, models.Pagination{Page: page, Limit: limit})
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []*models.Post{}
	}

	return &PostHistory{Posts: posts, Total: total, Page: page, Limit: limit}, nil
}

func (m *queueManager) GetQueueStats(ctx context.Context) (queue.Counts, error) {
	var counts queue.Counts

	cached, err := m.cache.Get(ctx, queueStatsKey)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(cached, &counts); jsonErr == nil {
			return counts, nil
		}
	case !errors.Is(err, cache.ErrMiss):
		m.logger.Warn("queue stats cache read failed", zap.Error(err))
	}

	counts, err = m.jobs.Counts(ctx)
	if err != nil {
		return queue.Counts{}, fmt.Errorf("queue counts: %w", err)
	}

	if data, err := json.Marshal(counts); err == nil {
		if err := m.cache.Set(ctx, queueStatsKey, data, m.cfg.StatsCacheTTL); err != nil {
			m.logger.Warn("queue stats cache write failed", zap.Error(err))
		}
	}
	return counts, nil
}

func (m *queueManager) loadPost(ctx context.Context, postID, workspaceID string) (*models.Post, error) {
	post, err := m.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("load post: %w", err)
	}
	if post == nil || post.WorkspaceID != workspaceID {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (m *queueManager) enqueue(ctx context.Context, payload queue.JobPayload, jobID string, delay time.Duration) error {
	if _, err := m.jobs.Enqueue(ctx, payload, queue.EnqueueOptions{JobID: jobID, Delay: delay}); err != nil {
		return fmt.Errorf("enqueue %s job: %w", payload.Kind, err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(payload.Kind)).Inc()
	m.invalidateStats(ctx)
	return nil
}

// invalidateStats drops the cached queue counts after this manager changed the queue.
func (m *queueManager) invalidateStats(ctx context.Context) {
	if err := m.cache.Delete(ctx, queueStatsKey); err != nil {
		m.logger.Warn("queue stats cache invalidation failed", zap.Error(err))
	}
}

// removeJob drops a job this manager just enqueued. Failures are logged only.
func (m *queueManager) removeJob(ctx context.Context, jobID string, payload queue.JobPayload) {
	if err := m.jobs.Remove(ctx, &queue.Job{ID: jobID, Payload: payload}); err != nil {
		m.logger.Warn("could not remove superseded job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (m *queueManager) removePendingJobs(ctx context.Context, postID string) (int, error) {
	jobs, err := m.jobs.GetJobs(ctx, queue.StateDelayed, queue.StateWaiting)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	removed := 0
	for _, job := range jobs {
		if job.Payload.PostID != postID {
			continue
		}
		if err := m.jobs.Remove(ctx, job); err != nil {
			m.logger.Warn("failed to remove pending job",
				zap.String("post_id", postID), zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		removed++
		metrics.JobsCancelled.Inc()
	}
	if removed > 0 {
		m.invalidateStats(ctx)
	}
	return removed, nil
}

func accountIDs(links []*models.PlatformLink, keep func(*models.PlatformLink) bool) []string {
	ids := make([]string, 0, len(links))
	for _, l := range links {
		if keep == nil || keep(l) {
			ids = append(ids, l.SocialAccountID)
		}
	}
	return ids
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
