package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PlatformLinkRepository interface {
	Create(ctx context.Context, tx *sql.Tx, link *models.PlatformLink) error
	ListByPostID(ctx context.Context, postID string) ([]*models.PlatformLink, error)
	UpdateResult(ctx context.Context, postID, socialAccountID string, result models.LinkResult) error
	SetStatus(ctx context.Context, postID string, socialAccountIDs []string, status models.PostStatus) error
	ResetStatus(ctx context.Context, postID string, from, to models.PostStatus) error
}

type platformLinkRepository struct {
	db *sql.DB
}

func NewPlatformLinkRepository(db *sql.DB) PlatformLinkRepository {
	return &platformLinkRepository{db: db}
}

const linkColumns = `id, post_id, social_account_id, platform, status, platform_post_id, platform_url, published_at, error_message, created_at, updated_at`

func (r *platformLinkRepository) Create(ctx context.Context, tx *sql.Tx, link *models.PlatformLink) error {
	query := `
		INSERT INTO platform_links (id, post_id, social_account_id, platform, status)
		VALUES ($1, $2, $3, $4, $5)
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, link.ID, link.PostID, link.SocialAccountID, link.Platform, link.Status)
	} else {
		_, err = r.db.ExecContext(ctx, query, link.ID, link.PostID, link.SocialAccountID, link.Platform, link.Status)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformLinkRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PlatformLink, error) {
	return listLinks(ctx, r.db, `WHERE post_id = $1`, postID)
}

func (r *platformLinkRepository) UpdateResult(ctx context.Context, postID, socialAccountID string, result models.LinkResult) error {
	query := `
		UPDATE platform_links
		SET status = $1,
			platform_post_id = $2,
			platform_url = $3,
			published_at = $4,
			error_message = $5,
			updated_at = $6
		WHERE post_id = $7 AND social_account_id = $8
	`
	res, err := r.db.ExecContext(ctx, query,
		result.Status,
		nullString(result.PlatformPostID),
		nullString(result.PlatformURL),
		nullTime(result.PublishedAt),
		result.ErrorMessage,
		time.Now(),
		postID,
		socialAccountID,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected == 0 {
		return fmt.Errorf("platform link for post %s and account %s not found", postID, socialAccountID)
	}
	return nil
}

// SetStatus updates the links of the given accounts; an empty account list targets every link of the post.
func (r *platformLinkRepository) SetStatus(ctx context.Context, postID string, socialAccountIDs []string, status models.PostStatus) error {
	query := `UPDATE platform_links SET status = $1, updated_at = $2 WHERE post_id = $3`
	args := []any{status, time.Now(), postID}
	if len(socialAccountIDs) > 0 {
		query += ` AND social_account_id = ANY($4)`
		args = append(args, pq.Array(socialAccountIDs))
	}

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformLinkRepository) ResetStatus(ctx context.Context, postID string, from, to models.PostStatus) error {
	query := `UPDATE platform_links SET status = $1, updated_at = $2 WHERE post_id = $3 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, to, time.Now(), postID, from)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func listLinks(ctx context.Context, db *sql.DB, where string, args ...any) ([]*models.PlatformLink, error) {
	query := `SELECT ` + linkColumns + ` FROM platform_links ` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var links []*models.PlatformLink
	for rows.Next() {
		var link models.PlatformLink
		var platformPostID, platformURL sql.NullString
		var publishedAt sql.NullTime
		err := rows.Scan(&link.ID, &link.PostID, &link.SocialAccountID, &link.Platform, &link.Status,
			&platformPostID, &platformURL, &publishedAt, &link.ErrorMessage, &link.CreatedAt, &link.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if platformPostID.Valid {
			link.PlatformPostID = &platformPostID.String
		}
		if platformURL.Valid {
			link.PlatformURL = &platformURL.String
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			link.PublishedAt = &t
		}
		links = append(links, &link)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return links, nil
}
