package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const DefaultTiktokBaseURL = "https://open.tiktokapis.com/v2"

type Tiktok struct {
	baseURL string
	client  *http.Client
}

func NewTiktok(baseURL string, client *http.Client) *Tiktok {
	if baseURL == "" {
		baseURL = DefaultTiktokBaseURL
	}
	return &Tiktok{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(client)}
}

func (t *Tiktok) Publish(ctx context.Context, account Account, content Content) Outcome {
	if len(content.MediaURLs) == 0 {
		return Failed(errors.New("tiktok requires at least one media item"))
	}

	creator, err := t.queryCreatorInfo(ctx, account)
	if err != nil {
		return Failed(fmt.Errorf("tiktok creator info: %w", err))
	}
	privacy := privacyLevel(creator.PrivacyLevelOptions)

	var publishID string
	if content.PostType == models.PostTypeMultiple {
		publishID, err = t.postPhotos(ctx, account, content, privacy)
	} else {
		publishID, err = t.postVideo(ctx, account, content, creator, privacy)
	}
	if err != nil {
		return Failed(fmt.Errorf("tiktok publish: %w", err))
	}

	return Succeeded(publishID, "")
}

func (t *Tiktok) headers(account Account) map[string]string {
	return map[string]string{"Authorization": "Bearer " + account.AccessToken}
}

func (t *Tiktok) queryCreatorInfo(ctx context.Context, account Account) (*transfer.TiktokCreatorInfo, error) {
	var result transfer.TiktokCreatorInfoResponse
	err := doJSON(ctx, t.client, http.MethodPost, t.baseURL+"/post/publish/creator_info/query/", t.headers(account), nil, &result, tiktokError)
	if err != nil {
		return nil, err
	}
	if err := checkTiktokError(result.Error); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (t *Tiktok) postVideo(ctx context.Context, account Account, content Content, creator *transfer.TiktokCreatorInfo, privacy string) (string, error) {
	req := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 content.Caption,
			PrivacyLevel:          privacy,
			DisableDuet:           creator.DuetDisabled,
			DisableComment:        creator.CommentDisabled,
			DisableStitch:         creator.StitchDisabled,
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: content.MediaURLs[0],
		},
	}
	return t.initPost(ctx, account, "/post/publish/video/init/", req)
}

func (t *Tiktok) postPhotos(ctx context.Context, account Account, content Content, privacy string) (string, error) {
	req := transfer.PhotoUploadRequest{
		PostInfo: transfer.PhotoPostInfo{
			Title:        content.Title,
			Description:  content.Caption,
			PrivacyLevel: privacy,
			AutoAddMusic: true,
		},
		SourceInfo: transfer.PhotoSourceInfo{
			Source:      "PULL_FROM_URL",
			PhotoImages: content.MediaURLs,
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}
	return t.initPost(ctx, account, "/post/publish/content/init/", req)
}

func (t *Tiktok) initPost(ctx context.Context, account Account, path string, payload any) (string, error) {
	var result transfer.TikTokUploadResponse
	if err := doJSON(ctx, t.client, http.MethodPost, t.baseURL+path, t.headers(account), payload, &result, tiktokError); err != nil {
		return "", err
	}
	if err := checkTiktokError(result.Error); err != nil {
		return "", err
	}
	if result.Data.PublishID == "" {
		return "", errors.New("no publish_id returned from TikTok")
	}
	return result.Data.PublishID, nil
}

func privacyLevel(options []string) string {
	for _, o := range options {
		if o == "PUBLIC_TO_EVERYONE" {
			return o
		}
	}
	if len(options) > 0 {
		return options[0]
	}
	return "SELF_ONLY"
}

func checkTiktokError(e transfer.TiktokError) error {
	if e.Code == "" || e.Code == "ok" {
		return nil
	}
	if e.Message != "" {
		return fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	return errors.New(e.Code)
}

func tiktokError(body []byte) string {
	var resp transfer.TikTokUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if err := checkTiktokError(resp.Error); err != nil {
		return err.Error()
	}
	return ""
}
