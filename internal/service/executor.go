package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/cache"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPublishConcurrency = 10
	storeWriteAttempts        = 3
	defaultStoreRetryDelay    = 200 * time.Millisecond
)

// PublishExecutor runs publish jobs: it fans a post out to every targeted
// account and records each outcome on the matching platform link.
type PublishExecutor struct {
	posts       repository.PostRepository
	links       repository.PlatformLinkRepository
	accounts    repository.SocialAccountRepository
	media       repository.PostMediaRepository
	publishers  *publisher.Registry
	cache       cache.Cache
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
	retryDelay  time.Duration
}

func NewPublishExecutor(
	posts repository.PostRepository,
	links repository.PlatformLinkRepository,
	accounts repository.SocialAccountRepository,
	media repository.PostMediaRepository,
	publishers *publisher.Registry,
	c cache.Cache,
	concurrency int,
	logger *zap.Logger) *PublishExecutor {
	if concurrency <= 0 {
		concurrency = defaultPublishConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishExecutor{
		posts:       posts,
		links:       links,
		accounts:    accounts,
		media:       media,
		publishers:  publishers,
		cache:       c,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
		retryDelay:  defaultStoreRetryDelay,
	}
}

var _ queue.Processor = (*PublishExecutor)(nil)

func (e *PublishExecutor) Process(ctx context.Context, payload queue.JobPayload) error {
	log := e.logger.With(zap.String("post_id", payload.PostID), zap.String("kind", string(payload.Kind)))

	post, err := e.posts.GetByID(ctx, payload.PostID)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}
	if post == nil {
		log.Warn("post no longer exists, dropping job")
		metrics.JobsDropped.WithLabelValues("post_missing").Inc()
		return nil
	}

	if e.cancelled(ctx, payload) {
		log.Info("job was cancelled, dropping")
		metrics.JobsDropped.WithLabelValues("cancelled").Inc()
		return nil
	}

	if post.Status != models.PostStatusScheduled {
		log.Warn("publishing post that is not scheduled", zap.String("status", string(post.Status)))
	}

	byAccount := make(map[string]*models.PlatformLink, len(post.PlatformLinks))
	for _, l := range post.PlatformLinks {
		byAccount[l.SocialAccountID] = l
	}

	var targets []*models.PlatformLink
	var targetIDs []string
	for _, id := range payload.PlatformIDs {
		link, ok := byAccount[id]
		if !ok {
			log.Warn("job targets an account the post is not linked to", zap.String("social_account_id", id))
			continue
		}
		targets = append(targets, link)
		targetIDs = append(targetIDs, id)
	}
	if len(targets) == 0 {
		log.Warn("no valid targets, nothing to publish")
		metrics.JobsDropped.WithLabelValues("no_targets").Inc()
		return nil
	}

	mediaURLs, err := e.media.ListURLsByPostID(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}

	if err := e.links.SetStatus(ctx, post.ID, targetIDs, models.PostStatusPublishing); err != nil {
		return fmt.Errorf("mark links publishing: %w", err)
	}
	if err := e.posts.UpdateStatus(ctx, post.ID, models.PostStatusPublishing); err != nil {
		return fmt.Errorf("mark post publishing: %w", err)
	}

	content := publisher.Content{
		PostID:    post.ID,
		PostType:  post.PostType,
		Caption:   post.Caption,
		Title:     post.Title,
		MediaURLs: mediaURLs,
	}

	// recorded[i] is the status targets[i] ends this job in, whatever the store holds.
	recorded := make([]models.PostStatus, len(targets))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.concurrency)

	for i, link := range targets {
		wg.Add(1)
		go func(i int, link *models.PlatformLink) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			recorded[i] = e.publishLink(ctx, log, link, content)
		}(i, link)
	}
	wg.Wait()

	outcomes := make(map[string]models.PostStatus, len(targets))
	for i, link := range targets {
		outcomes[link.SocialAccountID] = recorded[i]
	}

	links, err := e.links.ListByPostID(ctx, post.ID)
	if err != nil {
		log.Error("failed to reload platform links, aggregating from the job snapshot", zap.Error(err))
		links = post.PlatformLinks
	}
	status := RecomputePostStatus(overlayOutcomes(links, outcomes))
	if err := e.retryWrite(ctx, func() error {
		return e.posts.UpdateStatus(ctx, post.ID, status)
	}); err != nil {
		return fmt.Errorf("persist post status: %w", err)
	}

	log.Info("publish job finished", zap.String("status", string(status)), zap.Int("targets", len(targets)))
	return nil
}

// overlayOutcomes returns copies of links with this job's outcomes applied,
// so a target whose result write was lost never counts as in flight.
func overlayOutcomes(links []*models.PlatformLink, outcomes map[string]models.PostStatus) []*models.PlatformLink {
	out := make([]*models.PlatformLink, 0, len(links))
	for _, l := range links {
		c := *l
		if st, ok := outcomes[l.SocialAccountID]; ok {
			c.Status = st
		}
		out = append(out, &c)
	}
	return out
}

func (e *PublishExecutor) publishLink(ctx context.Context, log *zap.Logger, link *models.PlatformLink, content publisher.Content) models.PostStatus {
	start := time.Now()
	outcome := e.publishOne(ctx, link, content)
	metrics.ObservePublish(link.Platform, start, outcome.Success)

	result := models.LinkResult{Status: models.PostStatusFailed, ErrorMessage: outcome.Error}
	if outcome.Success {
		publishedAt := e.now()
		result = models.LinkResult{Status: models.PostStatusPublished, PublishedAt: &publishedAt}
		if outcome.Data != nil {
			result.PlatformPostID = outcome.Data.ID
			result.PlatformURL = outcome.Data.URL
		}
	}

	if outcome.Success {
		log.Info("published", zap.String("platform", link.Platform), zap.String("social_account_id", link.SocialAccountID))
	} else {
		log.Warn("publish failed",
			zap.String("platform", link.Platform),
			zap.String("social_account_id", link.SocialAccountID),
			zap.String("error", outcome.Error))
	}

	return e.recordResult(ctx, log, link, result)
}

// recordResult stores the outcome of one target. When the write keeps failing
// it falls back to marking the link FAILED and reports FAILED either way.
func (e *PublishExecutor) recordResult(ctx context.Context, log *zap.Logger, link *models.PlatformLink, result models.LinkResult) models.PostStatus {
	err := e.retryWrite(ctx, func() error {
		return e.links.UpdateResult(ctx, link.PostID, link.SocialAccountID, result)
	})
	if err == nil {
		return result.Status
	}
	log.Error("failed to record publish result",
		zap.String("social_account_id", link.SocialAccountID),
		zap.String("status", string(result.Status)),
		zap.Error(err))

	if result.Status != models.PostStatusFailed {
		fallback := models.LinkResult{
			Status:       models.PostStatusFailed,
			ErrorMessage: "publish result could not be recorded: " + err.Error(),
		}
		if err := e.links.UpdateResult(ctx, link.PostID, link.SocialAccountID, fallback); err != nil {
			log.Error("failed to record fallback failure",
				zap.String("social_account_id", link.SocialAccountID), zap.Error(err))
		}
	}
	return models.PostStatusFailed
}

// retryWrite runs a store write up to storeWriteAttempts times.
func (e *PublishExecutor) retryWrite(ctx context.Context, write func() error) error {
	var err error
	for attempt := 1; attempt <= storeWriteAttempts; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if attempt == storeWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(e.retryDelay):
		}
	}
	return err
}

func (e *PublishExecutor) publishOne(ctx context.Context, link *models.PlatformLink, content publisher.Content) (out publisher.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = publisher.Failed(fmt.Errorf("publisher panicked: %v", r))
		}
	}()

	account, err := e.accounts.GetByID(ctx, link.SocialAccountID)
	if err != nil {
		return publisher.Failed(fmt.Errorf("load social account: %w", err))
	}
	if account == nil {
		return publisher.Failed(errors.New("social account not found"))
	}

	platform := link.Platform
	if platform == "" {
		platform = account.Platform
	}
	p, err := e.publishers.Get(platform)
	if err != nil {
		return publisher.Failed(err)
	}

	return p.Publish(ctx, publisher.Account{
		ID:                account.ID,
		PlatformAccountID: account.AccountID,
		AccessToken:       account.AccessToken,
	}, content)
}

// cancelled reports whether the post was cancelled after this job was enqueued.
func (e *PublishExecutor) cancelled(ctx context.Context, payload queue.JobPayload) bool {
	raw, err := e.cache.Get(ctx, cancelMarkerKey(payload.PostID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("cancel marker lookup failed", zap.String("post_id", payload.PostID), zap.Error(err))
		}
		return false
	}
	marker, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return false
	}
	return payload.EnqueuedAt.Before(marker)
}
