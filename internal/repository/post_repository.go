package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	CheckByWorkspaceID(ctx context.Context, postID, workspaceID string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.PostStatus) error
	UpdateSchedule(ctx context.Context, id string, status models.PostStatus, scheduledAt *time.Time) error
	TransitionStatus(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, scheduledAt *time.Time) (bool, error)
	Count(ctx context.Context, filter models.PostFilter) (int, error)
	List(ctx context.Context, filter models.PostFilter, page models.Pagination) ([]*models.Post, error)
	Remove(ctx context.Context, id string) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, workspace_id, post_type, caption, title, status, scheduled_at, created_at, updated_at`

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	query := `
		INSERT INTO posts (id, workspace_id, post_type, caption, title, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, post.ID, post.WorkspaceID, post.PostType, post.Caption, post.Title, post.Status)
	} else {
		_, err = r.db.ExecContext(ctx, query, post.ID, post.WorkspaceID, post.PostType, post.Caption, post.Title, post.Status)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	post, err := scanPost(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	links, err := listLinks(ctx, r.db, `WHERE post_id = $1`, id)
	if err != nil {
		return nil, err
	}
	post.PlatformLinks = links

	return post, nil
}

func (r *postRepository) CheckByWorkspaceID(ctx context.Context, postID, workspaceID string) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND workspace_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, workspaceID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *postRepository) UpdateStatus(ctx context.Context, id string, status models.PostStatus) error {
	query := `
		UPDATE posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// UpdateSchedule writes status and scheduled_at together; a nil scheduledAt clears it.
func (r *postRepository) UpdateSchedule(ctx context.Context, id string, status models.PostStatus, scheduledAt *time.Time) error {
	query := `
		UPDATE posts
		SET status = $1,
			scheduled_at = $2,
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, status, nullTime(scheduledAt), time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// TransitionStatus moves the post to `to` only while its status is one of `from`.
// It reports false when no row matched, i.e. a concurrent writer got there first.
func (r *postRepository) TransitionStatus(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, scheduledAt *time.Time) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1,
			scheduled_at = $2,
			updated_at = $3
		WHERE id = $4 AND status = ANY($5)
	`
	result, err := r.db.ExecContext(ctx, query, to, nullTime(scheduledAt), time.Now(), id, pq.Array(statusStrings(from)))
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postRepository) Count(ctx context.Context, filter models.PostFilter) (int, error) {
	where, args := buildPostWhere(filter)
	query := `SELECT COUNT(*) FROM posts ` + where

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *postRepository) List(ctx context.Context, filter models.PostFilter, page models.Pagination) ([]*models.Post, error) {
	where, args := buildPostWhere(filter)

	query := `SELECT ` + postColumns + ` FROM posts ` + where
	switch filter.Order {
	case models.OrderScheduledAsc:
		query += ` ORDER BY scheduled_at ASC, id ASC`
	default:
		query += ` ORDER BY updated_at DESC, id ASC`
	}
	if page.Limit > 0 {
		args = append(args, page.Limit, page.Offset())
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	byID := make(map[string]*models.Post)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
		byID[post.ID] = post
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	links, err := listLinks(ctx, r.db, `WHERE post_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if post, ok := byID[link.PostID]; ok {
			post.PlatformLinks = append(post.PlatformLinks, link)
		}
	}

	return posts, nil
}

func (r *postRepository) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var scheduledAt sql.NullTime
	err := row.Scan(&post.ID, &post.WorkspaceID, &post.PostType, &post.Caption, &post.Title,
		&post.Status, &scheduledAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		post.ScheduledAt = &t
	}
	return &post, nil
}

func buildPostWhere(filter models.PostFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.WorkspaceID != "" {
		args = append(args, filter.WorkspaceID)
		clauses = append(clauses, fmt.Sprintf("workspace_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.ScheduledAfter != nil {
		args = append(args, *filter.ScheduledAfter)
		clauses = append(clauses, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func statusStrings(statuses []models.PostStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
