package models

import "time"

type PostStatus string

const (
	PostStatusDraft      PostStatus = "DRAFT"
	PostStatusScheduled  PostStatus = "SCHEDULED"
	PostStatusPublishing PostStatus = "PUBLISHING"
	PostStatusPublished  PostStatus = "PUBLISHED"
	PostStatusFailed     PostStatus = "FAILED"
)

func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusScheduled, PostStatusPublishing, PostStatusPublished, PostStatusFailed:
		return true
	}
	return false
}

const (
	PostTypeSingle   = "single"
	PostTypeMultiple = "multiple"
	PostTypeStory    = "story"
)

type Post struct {
	ID            string          `db:"id" json:"id"`
	WorkspaceID   string          `db:"workspace_id" json:"workspace_id"`
	PostType      string          `db:"post_type" json:"post_type"`
	Caption       string          `db:"caption" json:"caption"`
	Title         string          `db:"title" json:"title"`
	Status        PostStatus      `db:"status" json:"status"`
	ScheduledAt   *time.Time      `db:"scheduled_at" json:"scheduled_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	PlatformLinks []*PlatformLink `db:"-" json:"platform_links"`
}

// PlatformLink is one target account's publish attempt for a post.
type PlatformLink struct {
	ID              string     `db:"id" json:"id"`
	PostID          string     `db:"post_id" json:"post_id"`
	SocialAccountID string     `db:"social_account_id" json:"social_account_id"`
	Platform        string     `db:"platform" json:"platform"`
	Status          PostStatus `db:"status" json:"status"`
	PlatformPostID  *string    `db:"platform_post_id" json:"platform_post_id"`
	PlatformURL     *string    `db:"platform_url" json:"platform_url"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// LinkResult is written back to a PlatformLink once its publish attempt resolves.
type LinkResult struct {
	Status         PostStatus
	PlatformPostID string
	PlatformURL    string
	PublishedAt    *time.Time
	ErrorMessage   string
}

type PostOrder int

const (
	OrderUpdatedDesc PostOrder = iota
	OrderScheduledAsc
)

type PostFilter struct {
	WorkspaceID    string
	Statuses       []PostStatus
	ScheduledAfter *time.Time
	Order          PostOrder
}

type Pagination struct {
	Page  int
	Limit int
}

func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

type MediaAsset struct {
	ID          string    `db:"id"`
	WorkspaceID string    `db:"workspace_id"`
	FileName    string    `db:"file_name"`
	FileType    string    `db:"file_type"`
	FileSize    int64     `db:"file_size"`
	FileURL     string    `db:"file_url"`
	CreatedAt   time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       string    `db:"post_id"`
	AssetID      string    `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}
