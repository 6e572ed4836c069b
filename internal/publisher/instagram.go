package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const DefaultInstagramBaseURL = "https://graph.instagram.com/v21.0"

type Instagram struct {
	baseURL string
	client  *http.Client
}

func NewInstagram(baseURL string, client *http.Client) *Instagram {
	if baseURL == "" {
		baseURL = DefaultInstagramBaseURL
	}
	return &Instagram{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(client)}
}

func (ig *Instagram) Publish(ctx context.Context, account Account, content Content) Outcome {
	if len(content.MediaURLs) == 0 {
		return Failed(errors.New("instagram requires at least one media item"))
	}

	var containerID string
	var err error
	switch content.PostType {
	case models.PostTypeMultiple:
		containerID, err = ig.carouselContainer(ctx, account, content)
	case models.PostTypeStory:
		req := mediaRequest(content.MediaURLs[0], account.AccessToken)
		req.MediaType = "STORIES"
		containerID, err = ig.createContainer(ctx, account, req)
	default:
		req := mediaRequest(content.MediaURLs[0], account.AccessToken)
		req.Caption = content.Caption
		containerID, err = ig.createContainer(ctx, account, req)
	}
	if err != nil {
		return Failed(fmt.Errorf("instagram container: %w", err))
	}

	mediaID, err := ig.publishContainer(ctx, account, containerID)
	if err != nil {
		return Failed(fmt.Errorf("instagram publish: %w", err))
	}

	return Succeeded(mediaID, ig.permalink(ctx, account, mediaID))
}

func mediaRequest(mediaURL, accessToken string) transfer.InstagramMediaRequest {
	req := transfer.InstagramMediaRequest{AccessToken: accessToken}
	if isVideo(mediaURL) {
		req.MediaType = "REELS"
		req.VideoURL = mediaURL
	} else {
		req.ImageURL = mediaURL
	}
	return req
}

func (ig *Instagram) carouselContainer(ctx context.Context, account Account, content Content) (string, error) {
	children := make([]string, 0, len(content.MediaURLs))
	for _, mediaURL := range content.MediaURLs {
		req := mediaRequest(mediaURL, account.AccessToken)
		if req.MediaType == "REELS" {
			req.MediaType = "VIDEO"
		}
		req.IsCarouselItem = true

		id, err := ig.createContainer(ctx, account, req)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	return ig.createContainer(ctx, account, transfer.InstagramMediaRequest{
		MediaType:   "CAROUSEL",
		Caption:     content.Caption,
		Children:    children,
		AccessToken: account.AccessToken,
	})
}

func (ig *Instagram) createContainer(ctx context.Context, account Account, req transfer.InstagramMediaRequest) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", ig.baseURL, account.PlatformAccountID)

	var result transfer.InstagramIDResponse
	if err := doJSON(ctx, ig.client, http.MethodPost, endpoint, nil, req, &result, instagramError); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("no media ID returned from Instagram")
	}
	return result.ID, nil
}

func (ig *Instagram) publishContainer(ctx context.Context, account Account, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", ig.baseURL, account.PlatformAccountID)

	var result transfer.InstagramIDResponse
	err := doJSON(ctx, ig.client, http.MethodPost, endpoint, nil, transfer.InstagramPublishRequest{
		CreationID:  containerID,
		AccessToken: account.AccessToken,
	}, &result, instagramError)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("no published media ID returned from Instagram")
	}
	return result.ID, nil
}

// permalink is best effort; a published post without a link is still published.
func (ig *Instagram) permalink(ctx context.Context, account Account, mediaID string) string {
	endpoint := fmt.Sprintf("%s/%s?fields=permalink&access_token=%s", ig.baseURL, mediaID, url.QueryEscape(account.AccessToken))

	var result transfer.InstagramPermalink
	if err := doJSON(ctx, ig.client, http.MethodGet, endpoint, nil, nil, &result, nil); err != nil {
		return ""
	}
	return result.Permalink
}

func instagramError(body []byte) string {
	var resp transfer.InstagramErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if resp.Error.ErrorUserMsg != "" {
		return resp.Error.ErrorUserMsg
	}
	return resp.Error.Message
}
