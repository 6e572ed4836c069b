package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/cache"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPublisher returns a per-account outcome and records every call.
type scriptedPublisher struct {
	mu       sync.Mutex
	outcomes map[string]publisher.Outcome
	calls    []string
	content  []publisher.Content
}

func (p *scriptedPublisher) set(accountID string, o publisher.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[accountID] = o
}

func (p *scriptedPublisher) Publish(ctx context.Context, account publisher.Account, content publisher.Content) publisher.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, account.ID)
	p.content = append(p.content, content)
	if o, ok := p.outcomes[account.ID]; ok {
		return o
	}
	return publisher.Succeeded("id-"+account.ID, "")
}

func newExecutor(t *testing.T, s *store, c cache.Cache) (*PublishExecutor, *scriptedPublisher) {
	t.Helper()
	return newExecutorWithLinks(t, s, c, fakeLinks{s})
}

func newExecutorWithLinks(t *testing.T, s *store, c cache.Cache, links repository.PlatformLinkRepository) (*PublishExecutor, *scriptedPublisher) {
	t.Helper()
	pub := &scriptedPublisher{outcomes: map[string]publisher.Outcome{}}
	registry := publisher.NewRegistry()
	registry.Register(models.PlatformInstagram, pub)
	registry.Register(models.PlatformTiktok, pub)

	e := NewPublishExecutor(fakePosts{s}, links, fakeAccounts{s}, fakeMedia{s}, registry, c, 2, nil)
	e.now = func() time.Time { return fixedNow }
	e.retryDelay = time.Millisecond
	return e, pub
}

func scheduledPayload(postID string, ids ...string) queue.JobPayload {
	return queue.JobPayload{Kind: queue.KindPublish, PostID: postID, WorkspaceID: ws, PlatformIDs: ids, EnqueuedAt: fixedNow}
}

func TestRecomputePostStatus(t *testing.T) {
	link := func(st models.PostStatus) *models.PlatformLink { return &models.PlatformLink{Status: st} }

	cases := []struct {
		name  string
		links []*models.PlatformLink
		want  models.PostStatus
	}{
		{"no links", nil, models.PostStatusDraft},
		{"all published", []*models.PlatformLink{link(models.PostStatusPublished), link(models.PostStatusPublished)}, models.PostStatusPublished},
		{"one failed", []*models.PlatformLink{link(models.PostStatusPublished), link(models.PostStatusFailed), link(models.PostStatusPublished)}, models.PostStatusFailed},
		{"publishing wins", []*models.PlatformLink{link(models.PostStatusFailed), link(models.PostStatusPublishing)}, models.PostStatusPublishing},
		{"partially scheduled", []*models.PlatformLink{link(models.PostStatusPublished), link(models.PostStatusScheduled)}, models.PostStatusScheduled},
		{"all draft", []*models.PlatformLink{link(models.PostStatusDraft)}, models.PostStatusDraft},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RecomputePostStatus(tc.links))
		})
	}
}

func TestProcess_AllSucceed(t *testing.T) {
	s, _, _ := setupDraft(t)
	s.posts["p1"].Status = models.PostStatusScheduled
	s.media["p1"] = []string{"https://media/1.jpg"}
	c, _ := newTestCache(t)
	e, pub := newExecutor(t, s, c)
	pub.set("acc-a", publisher.Succeeded("ig-1", "https://instagram.com/p/1"))

	require.NoError(t, e.Process(context.Background(), scheduledPayload("p1", "acc-a", "acc-b")))

	assert.ElementsMatch(t, []string{"acc-a", "acc-b"}, pub.calls)
	assert.Equal(t, []string{"https://media/1.jpg"}, pub.content[0].MediaURLs)

	a := s.link("p1", "acc-a")
	assert.Equal(t, models.PostStatusPublished, a.Status)
	require.NotNil(t, a.PlatformPostID)
	assert.Equal(t, "ig-1", *a.PlatformPostID)
	require.NotNil(t, a.PlatformURL)
	assert.Equal(t, "https://instagram.com/p/1", *a.PlatformURL)
	require.NotNil(t, a.PublishedAt)
	assert.True(t, a.PublishedAt.Equal(fixedNow))

	assert.Equal(t, models.PostStatusPublished, s.post("p1").Status)
}

func TestProcess_PanicIsolatedToItsLink(t *testing.T) {
	s, _, _ := setupDraft(t)
	s.posts["p1"].Status = models.PostStatusScheduled
	c, _ := newTestCache(t)
	e, _ := newExecutor(t, s, c)
	e.publishers.Register(models.PlatformTiktok, publisher.PublisherFunc(func(context.Context, publisher.Account, publisher.Content) publisher.Outcome {
		panic("boom")
	}))

	require.NoError(t, e.Process(context.Background(), scheduledPayload("p1", "acc-a", "acc-b")))

	assert.Equal(t, models.PostStatusPublished, s.link("p1", "acc-a").Status)
	b := s.link("p1", "acc-b")
	assert.Equal(t, models.PostStatusFailed, b.Status)
	assert.Contains(t, b.ErrorMessage, "boom")
	assert.Equal(t, models.PostStatusFailed, s.post("p1").Status)
}

func TestProcess_MissingAccountFailsLink(t *testing.T) {
	s := newStore()
	s.addPost("p1", ws, models.PostStatusScheduled, map[string]models.PostStatus{"ghost": models.PostStatusScheduled})
	c, _ := newTestCache(t)
	e, pub := newExecutor(t, s, c)

	require.NoError(t, e.Process(context.Background(), scheduledPayload("p1", "ghost")))

	assert.Empty(t, pub.calls)
	l := s.link("p1", "ghost")
	assert.Equal(t, models.PostStatusFailed, l.Status)
	assert.Equal(t, "social account not found", l.ErrorMessage)
	assert.Equal(t, models.PostStatusFailed, s.post("p1").Status)
}

func TestProcess_UnsupportedPlatformFailsLink(t *testing.T) {
	s := newStore()
	s.addAccount("acc-y", ws, models.PlatformYoutube)
	s.addPost("p1", ws, models.PostStatusScheduled, map[string]models.PostStatus{"acc-y": models.PostStatusScheduled})
	c, _ := newTestCache(t)
	e, _ := newExecutor(t, s, c)

	require.NoError(t, e.Process(context.Background(), scheduledPayload("p1", "acc-y")))
	assert.Contains(t, s.link("p1", "acc-y").ErrorMessage, "unsupported platform")
}

func TestProcess_MissingPostDropped(t *testing.T) {
	s := newStore()
	c, _ := newTestCache(t)
	e, pub := newExecutor(t, s, c)

	require.NoError(t, e.Process(context.Background(), scheduledPayload("gone", "acc-a")))
	assert.Empty(t, pub.calls)
}

func TestProcess_StoreErrorReturned(t *testing.T) {
	s := newStore()
	s.getErr = errors.New("connection refused")
	c, _ := newTestCache(t)
	e, _ := newExecutor(t, s, c)

	err := e.Process(context.Background(), scheduledPayload("p1", "acc-a"))
	assert.ErrorContains(t, err, "connection refused")
}

func TestProcess_CancelledJobDropped(t *testing.T) {
	s, q, m := setupDraft(t)
	ctx := context.Background()

	_, err := m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: "2026-03-10T09:00:00Z"})
	require.NoError(t, err)
	job := q.last()

	// The job escaped queue removal and was picked up anyway.
	q.removeErr = errors.New("job is active")
	m.now = func() time.Time { return fixedNow.Add(time.Minute) }
	_, err = m.CancelScheduledPost(ctx, "p1")
	require.NoError(t, err)

	e, pub := newExecutor(t, s, m.cache)
	require.NoError(t, e.Process(ctx, job.Payload))

	assert.Empty(t, pub.calls)
	assert.Equal(t, models.PostStatusDraft, s.post("p1").Status)
}

func TestProcess_JobEnqueuedAfterCancelRuns(t *testing.T) {
	s, q, m := setupDraft(t)
	ctx := context.Background()

	_, err := m.CancelScheduledPost(ctx, "p1")
	require.NoError(t, err)
	_, err = m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: "2026-03-10T09:00:00Z"})
	require.NoError(t, err)

	e, pub := newExecutor(t, s, m.cache)
	require.NoError(t, e.Process(ctx, q.last().Payload))
	assert.Len(t, pub.calls, 2)
	assert.Equal(t, models.PostStatusPublished, s.post("p1").Status)
}

func TestProcess_UnknownTargetSkipped(t *testing.T) {
	s, _, _ := setupDraft(t)
	s.posts["p1"].Status = models.PostStatusScheduled
	c, _ := newTestCache(t)
	e, pub := newExecutor(t, s, c)

	require.NoError(t, e.Process(context.Background(), scheduledPayload("p1", "acc-a", "not-linked")))
	assert.Equal(t, []string{"acc-a"}, pub.calls)
}

func TestScheduleExecuteRetry_EndToEnd(t *testing.T) {
	s, q, m := setupDraft(t)
	ctx := context.Background()

	res, err := m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: fixedNow.Add(time.Hour).Format(time.RFC3339)})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, models.PostStatusScheduled, s.post("p1").Status)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, int64(3600000), q.last().Opts.Delay.Milliseconds())

	e, pub := newExecutor(t, s, m.cache)
	pub.set("acc-b", publisher.Failed(errors.New("daily limit reached")))

	require.NoError(t, e.Process(ctx, q.last().Payload))
	assert.Equal(t, models.PostStatusPublished, s.link("p1", "acc-a").Status)
	assert.Equal(t, models.PostStatusFailed, s.link("p1", "acc-b").Status)
	assert.Equal(t, "daily limit reached", s.link("p1", "acc-b").ErrorMessage)
	assert.Equal(t, models.PostStatusFailed, s.post("p1").Status)

	_, err = m.RetryFailedPost(ctx, "p1", ws)
	require.NoError(t, err)
	require.Len(t, q.enqueued, 2)
	retry := q.last().Payload
	assert.Equal(t, []string{"acc-b"}, retry.PlatformIDs)
	assert.True(t, retry.IsRetry)

	pub.set("acc-b", publisher.Succeeded("tt-1", ""))
	require.NoError(t, e.Process(ctx, retry))

	assert.Equal(t, models.PostStatusPublished, s.link("p1", "acc-b").Status)
	assert.Equal(t, models.PostStatusPublished, s.post("p1").Status)
	assert.Equal(t, []string{"acc-a", "acc-b", "acc-b"}, sortedCalls(pub))
}

func sortedCalls(p *scriptedPublisher) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string(nil), p.calls...)
	sort.Strings(out)
	return out
}

// flakyLinks fails UpdateResult for one account. remaining < 0 fails every
// matching write; status, when set, limits failures to writes of that status.
type flakyLinks struct {
	fakeLinks
	mu        sync.Mutex
	account   string
	status    models.PostStatus
	remaining int
	attempts  int
}

func (f *flakyLinks) UpdateResult(ctx context.Context, postID, socialAccountID string, result models.LinkResult) error {
	f.mu.Lock()
	fail := false
	if socialAccountID == f.account && (f.status == "" || f.status == result.Status) {
		f.attempts++
		if f.remaining != 0 {
			fail = true
			if f.remaining > 0 {
				f.remaining--
			}
		}
	}
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return f.fakeLinks.UpdateResult(ctx, postID, socialAccountID, result)
}

func TestProcess_ResultWriteRetried(t *testing.T) {
	s, q, m := setupDraft(t)
	ctx := context.Background()
	_, err := m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: "2026-03-10T09:00:00Z"})
	require.NoError(t, err)

	links := &flakyLinks{fakeLinks: fakeLinks{s}, account: "acc-b", remaining: 2}
	e, _ := newExecutorWithLinks(t, s, m.cache, links)

	require.NoError(t, e.Process(ctx, q.last().Payload))
	assert.Equal(t, 3, links.attempts)
	assert.Equal(t, models.PostStatusPublished, s.link("p1", "acc-b").Status)
	assert.Equal(t, models.PostStatusPublished, s.post("p1").Status)
}

func TestProcess_ResultWriteFallsBackToFailed(t *testing.T) {
	s, q, m := setupDraft(t)
	ctx := context.Background()
	_, err := m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: "2026-03-10T09:00:00Z"})
	require.NoError(t, err)

	links := &flakyLinks{fakeLinks: fakeLinks{s}, account: "acc-b", status: models.PostStatusPublished, remaining: -1}
	e, _ := newExecutorWithLinks(t, s, m.cache, links)

	require.NoError(t, e.Process(ctx, q.last().Payload))

	linkB := s.link("p1", "acc-b")
	assert.Equal(t, models.PostStatusFailed, linkB.Status)
	assert.Contains(t, linkB.ErrorMessage, "could not be recorded")
	assert.Equal(t, models.PostStatusPublished, s.link("p1", "acc-a").Status)
	assert.Equal(t, models.PostStatusFailed, s.post("p1").Status)

	res, err := m.RetryFailedPost(ctx, "p1", ws)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"acc-b"}, q.last().Payload.PlatformIDs)
}

func TestProcess_LostResultDoesNotLeavePostPublishing(t *testing.T) {
	s, q, m := setupDraft(t)
	ctx := context.Background()
	_, err := m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: "2026-03-10T09:00:00Z"})
	require.NoError(t, err)

	links := &flakyLinks{fakeLinks: fakeLinks{s}, account: "acc-b", remaining: -1}
	e, _ := newExecutorWithLinks(t, s, m.cache, links)

	require.NoError(t, e.Process(ctx, q.last().Payload))

	// The store never took a write for acc-b, yet the job is over.
	assert.Equal(t, models.PostStatusPublishing, s.link("p1", "acc-b").Status)
	assert.Equal(t, models.PostStatusFailed, s.post("p1").Status)

	res, err := m.SchedulePost(ctx, "p1", ws, ScheduleOptions{Datetime: "2026-03-10T10:00:00Z"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"acc-b"}, q.last().Payload.PlatformIDs)
	assert.Equal(t, models.PostStatusScheduled, s.post("p1").Status)
}
