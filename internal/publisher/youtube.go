package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const maxYoutubeTitle = 100

type Youtube struct {
	client   *http.Client
	endpoint string
}

// NewYoutube builds the YouTube adapter. endpoint overrides the API base URL and is empty in production.
func NewYoutube(client *http.Client, endpoint string) *Youtube {
	return &Youtube{client: newHTTPClient(client), endpoint: endpoint}
}

func (y *Youtube) Publish(ctx context.Context, account Account, content Content) Outcome {
	var videoURL string
	for _, u := range content.MediaURLs {
		if isVideo(u) {
			videoURL = u
			break
		}
	}
	if videoURL == "" {
		return Failed(errors.New("youtube requires a video"))
	}

	service, err := y.service(ctx, account)
	if err != nil {
		return Failed(fmt.Errorf("youtube service: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return Failed(fmt.Errorf("youtube download: %w", err))
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return Failed(fmt.Errorf("youtube download: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Failed(fmt.Errorf("youtube download: unexpected response status: %d", resp.StatusCode))
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Description: content.Caption,
			Title:       youtubeTitle(content),
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, video).Media(resp.Body).Context(ctx).Do()
	if err != nil {
		return Failed(fmt.Errorf("youtube upload: %w", err))
	}

	return Succeeded(uploaded.Id, "https://youtu.be/"+uploaded.Id)
}

func (y *Youtube) service(ctx context.Context, account Account) (*youtube.Service, error) {
	baseCtx := context.WithValue(ctx, oauth2.HTTPClient, y.client)
	client := oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.AccessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.endpoint))
	}
	return youtube.NewService(ctx, opts...)
}

func youtubeTitle(content Content) string {
	title := content.Title
	if title == "" {
		title = content.Caption
	}
	if title == "" {
		title = "Untitled"
	}
	runes := []rune(title)
	if len(runes) > maxYoutubeTitle {
		title = string(runes[:maxYoutubeTitle])
	}
	return title
}
