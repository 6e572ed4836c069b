package publisher

import (
	"context"
	"fmt"
	"sync"
)

type Account struct {
	ID                string
	PlatformAccountID string
	AccessToken       string
}

type Content struct {
	PostID    string
	PostType  string
	Caption   string
	Title     string
	MediaURLs []string
}

type OutcomeData struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Outcome is the result of one publish call. Adapters never panic or return
// errors; failures are reported through Error.
type Outcome struct {
	Success bool         `json:"success"`
	Data    *OutcomeData `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func Succeeded(id, url string) Outcome {
	return Outcome{Success: true, Data: &OutcomeData{ID: id, URL: url}}
}

func Failed(err error) Outcome {
	return Outcome{Error: err.Error()}
}

type Publisher interface {
	Publish(ctx context.Context, account Account, content Content) Outcome
}

type PublisherFunc func(ctx context.Context, account Account, content Content) Outcome

func (f PublisherFunc) Publish(ctx context.Context, account Account, content Content) Outcome {
	return f(ctx, account, content)
}

// Registry resolves a publisher by platform name.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: make(map[string]Publisher)}
}

func (r *Registry) Register(platform string, p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[platform] = p
}

func (r *Registry) Get(platform string) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
	return p, nil
}
