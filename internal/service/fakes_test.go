package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/maheshrc27/postflow/internal/cache"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/redis/go-redis/v9"
)

var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// store backs the fake repositories with in-memory maps.
type store struct {
	mu       sync.Mutex
	posts    map[string]*models.Post
	links    map[string][]*models.PlatformLink
	accounts map[string]*models.SocialAccount
	media    map[string][]string

	statusWrites int
	getErr       error
	// beforeTransition runs inside TransitionStatus before the status check.
	beforeTransition func()
}

func newStore() *store {
	return &store{
		posts:    map[string]*models.Post{},
		links:    map[string][]*models.PlatformLink{},
		accounts: map[string]*models.SocialAccount{},
		media:    map[string][]string{},
	}
}

func (s *store) addAccount(id, workspaceID, platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &models.SocialAccount{ID: id, WorkspaceID: workspaceID, Platform: platform, AccountID: "ext-" + id, AccessToken: "tok-" + id}
}

// addPost inserts a post with one link per account, each in the given link status.
func (s *store) addPost(id, workspaceID string, status models.PostStatus, links map[string]models.PostStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[id] = &models.Post{ID: id, WorkspaceID: workspaceID, PostType: models.PostTypeSingle, Caption: "caption", Status: status}

	ids := make([]string, 0, len(links))
	for accountID := range links {
		ids = append(ids, accountID)
	}
	sort.Strings(ids)
	for _, accountID := range ids {
		platform := models.PlatformInstagram
		if a, ok := s.accounts[accountID]; ok {
			platform = a.Platform
		}
		s.links[id] = append(s.links[id], &models.PlatformLink{
			ID:              "link-" + accountID,
			PostID:          id,
			SocialAccountID: accountID,
			Platform:        platform,
			Status:          links[accountID],
		})
	}
}

func (s *store) post(id string) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil
	}
	return s.copyPost(p)
}

func (s *store) link(postID, accountID string) *models.PlatformLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links[postID] {
		if l.SocialAccountID == accountID {
			c := *l
			return &c
		}
	}
	return nil
}

func (s *store) copyPost(p *models.Post) *models.Post {
	c := *p
	c.PlatformLinks = nil
	for _, l := range s.links[p.ID] {
		lc := *l
		c.PlatformLinks = append(c.PlatformLinks, &lc)
	}
	return &c
}

type fakePosts struct{ s *store }

func (f fakePosts) Create(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c := *post
	c.CreatedAt, c.UpdatedAt = fixedNow, fixedNow
	f.s.posts[post.ID] = &c
	return nil
}

func (f fakePosts) GetByID(ctx context.Context, id string) (*models.Post, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.getErr != nil {
		return nil, f.s.getErr
	}
	p, ok := f.s.posts[id]
	if !ok {
		return nil, nil
	}
	return f.s.copyPost(p), nil
}

func (f fakePosts) CheckByWorkspaceID(ctx context.Context, postID, workspaceID string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.posts[postID]
	return ok && p.WorkspaceID == workspaceID, nil
}

func (f fakePosts) UpdateStatus(ctx context.Context, id string, status models.PostStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.posts[id]
	if !ok {
		return errors.New("post not found")
	}
	p.Status = status
	f.s.statusWrites++
	return nil
}

func (f fakePosts) UpdateSchedule(ctx context.Context, id string, status models.PostStatus, scheduledAt *time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.posts[id]
	if !ok {
		return errors.New("post not found")
	}
	p.Status = status
	p.ScheduledAt = scheduledAt
	f.s.statusWrites++
	return nil
}

func (f fakePosts) TransitionStatus(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, scheduledAt *time.Time) (bool, error) {
	if f.s.beforeTransition != nil {
		f.s.beforeTransition()
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.posts[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if p.Status == st {
			p.Status = to
			p.ScheduledAt = scheduledAt
			f.s.statusWrites++
			return true, nil
		}
	}
	return false, nil
}

func (f fakePosts) match(p *models.Post, filter models.PostFilter) bool {
	if filter.WorkspaceID != "" && p.WorkspaceID != filter.WorkspaceID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if p.Status == st {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if filter.ScheduledAfter != nil && (p.ScheduledAt == nil || p.ScheduledAt.Before(*filter.ScheduledAfter)) {
		return false
	}
	return true
}

func (f fakePosts) Count(ctx context.Context, filter models.PostFilter) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, p := range f.s.posts {
		if f.match(p, filter) {
			n++
		}
	}
	return n, nil
}

func (f fakePosts) List(ctx context.Context, filter models.PostFilter, page models.Pagination) ([]*models.Post, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Post
	for _, p := range f.s.posts {
		if f.match(p, filter) {
			out = append(out, f.s.copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.Order == models.OrderScheduledAsc {
			return out[i].ScheduledAt.Before(*out[j].ScheduledAt)
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if page.Limit > 0 {
		start := page.Offset()
		if start > len(out) {
			start = len(out)
		}
		end := start + page.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (f fakePosts) Remove(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.posts, id)
	delete(f.s.links, id)
	return nil
}

type fakeLinks struct{ s *store }

func (f fakeLinks) Create(ctx context.Context, tx *sql.Tx, link *models.PlatformLink) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c := *link
	f.s.links[link.PostID] = append(f.s.links[link.PostID], &c)
	return nil
}

func (f fakeLinks) ListByPostID(ctx context.Context, postID string) ([]*models.PlatformLink, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.PlatformLink
	for _, l := range f.s.links[postID] {
		c := *l
		out = append(out, &c)
	}
	return out, nil
}

func (f fakeLinks) UpdateResult(ctx context.Context, postID, socialAccountID string, result models.LinkResult) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.links[postID] {
		if l.SocialAccountID != socialAccountID {
			continue
		}
		l.Status = result.Status
		l.ErrorMessage = result.ErrorMessage
		l.PublishedAt = result.PublishedAt
		if result.PlatformPostID != "" {
			id := result.PlatformPostID
			l.PlatformPostID = &id
		}
		if result.PlatformURL != "" {
			url := result.PlatformURL
			l.PlatformURL = &url
		}
		return nil
	}
	return fmt.Errorf("no link for %s/%s", postID, socialAccountID)
}

func (f fakeLinks) SetStatus(ctx context.Context, postID string, socialAccountIDs []string, status models.PostStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range socialAccountIDs {
		want[id] = true
	}
	for _, l := range f.s.links[postID] {
		if len(want) == 0 || want[l.SocialAccountID] {
			l.Status = status
		}
	}
	return nil
}

func (f fakeLinks) ResetStatus(ctx context.Context, postID string, from, to models.PostStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.links[postID] {
		if l.Status == from {
			l.Status = to
		}
	}
	return nil
}

type fakeAccounts struct{ s *store }

func (f fakeAccounts) GetByID(ctx context.Context, id string) (*models.SocialAccount, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.accounts[id]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (f fakeAccounts) ListByIDs(ctx context.Context, workspaceID string, ids []string) ([]*models.SocialAccount, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.SocialAccount
	for _, id := range ids {
		if a, ok := f.s.accounts[id]; ok && a.WorkspaceID == workspaceID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f fakeAccounts) CheckByWorkspaceID(ctx context.Context, accountID, workspaceID string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.accounts[accountID]
	return ok && a.WorkspaceID == workspaceID, nil
}

type fakeMedia struct{ s *store }

func (f fakeMedia) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.media[pm.PostID] = append(f.s.media[pm.PostID], "https://media/"+pm.AssetID)
	return nil
}

func (f fakeMedia) ListURLsByPostID(ctx context.Context, postID string) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return append([]string(nil), f.s.media[postID]...), nil
}

type fakeAssets struct {
	mu     sync.Mutex
	assets []models.MediaAsset
}

func (f *fakeAssets) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets = append(f.assets, *ma)
	return nil
}

type enqueued struct {
	Payload queue.JobPayload
	Opts    queue.EnqueueOptions
}

// fakeQueue keeps jobs in memory. Jobs with a delay are delayed, others waiting.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*queue.Job
	enqueued   []enqueued
	removed    []string
	enqueueErr error
	removeErr  error
	countCalls int
}

func (q *fakeQueue) Enqueue(ctx context.Context, payload queue.JobPayload, opts queue.EnqueueOptions) (*queue.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	state := queue.StateWaiting
	if opts.Delay > 0 {
		state = queue.StateDelayed
	}
	q.jobs = append(q.jobs, &queue.Job{ID: opts.JobID, State: state, Payload: payload, ProcessAt: fixedNow.Add(opts.Delay)})
	q.enqueued = append(q.enqueued, enqueued{Payload: payload, Opts: opts})
	return &queue.JobHandle{ID: opts.JobID, Queue: "posts"}, nil
}

func (q *fakeQueue) GetJobs(ctx context.Context, states ...queue.JobState) ([]*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*queue.Job
	for _, j := range q.jobs {
		for _, st := range states {
			if j.State == st {
				c := *j
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

func (q *fakeQueue) Remove(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.removeErr != nil {
		return q.removeErr
	}
	for i, j := range q.jobs {
		if j.ID == job.ID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			q.removed = append(q.removed, job.ID)
			return nil
		}
	}
	return errors.New("job not found")
}

func (q *fakeQueue) Counts(ctx context.Context) (queue.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.countCalls++
	var c queue.Counts
	for _, j := range q.jobs {
		switch j.State {
		case queue.StateWaiting:
			c.Waiting++
		case queue.StateDelayed:
			c.Delayed++
		case queue.StateActive:
			c.Active++
		case queue.StateCompleted:
			c.Completed++
		case queue.StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (q *fakeQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *fakeQueue) last() enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued[len(q.enqueued)-1]
}

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedis(client, "test:"), mr
}

func newTestManager(t *testing.T, s *store, q *fakeQueue) (*queueManager, *cache.RedisCache) {
	t.Helper()
	c, _ := newTestCache(t)
	m := NewQueueManager(q, fakePosts{s}, fakeLinks{s}, c, QueueManagerConfig{
		CancelMarkerTTL: time.Hour,
		StatsCacheTTL:   5 * time.Second,
	}, nil).(*queueManager)
	m.now = func() time.Time { return fixedNow }
	return m, c
}
