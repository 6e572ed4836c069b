package service

import "github.com/maheshrc27/postflow/internal/models"

// RecomputePostStatus derives a post's aggregate status from its links.
// An in-flight link wins over a failure, and a failure wins over success.
func RecomputePostStatus(links []*models.PlatformLink) models.PostStatus {
	if len(links) == 0 {
		return models.PostStatusDraft
	}

	var publishing, failed, published, scheduled int
	for _, l := range links {
		switch l.Status {
		case models.PostStatusPublishing:
			publishing++
		case models.PostStatusFailed:
			failed++
		case models.PostStatusPublished:
			published++
		case models.PostStatusScheduled:
			scheduled++
		}
	}

	switch {
	case publishing > 0:
		return models.PostStatusPublishing
	case failed > 0:
		return models.PostStatusFailed
	case published == len(links):
		return models.PostStatusPublished
	case scheduled > 0:
		return models.PostStatusScheduled
	}
	return models.PostStatusDraft
}
