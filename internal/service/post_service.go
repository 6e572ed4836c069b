package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var allowedMediaTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
}

type PostService interface {
	CreatePost(ctx context.Context, workspaceID string, pc *transfer.PostCreation, files []*multipart.FileHeader) (string, error)
	List(ctx context.Context, workspaceID string) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, workspaceID string) (*models.Post, error)
	Remove(ctx context.Context, postID, workspaceID string) error
}

// JobCanceller removes a post's pending publish jobs.
type JobCanceller interface {
	CancelScheduledPost(ctx context.Context, postID string) (bool, error)
}

type postService struct {
	db       *sql.DB
	pr       repository.PostRepository
	pl       repository.PlatformLinkRepository
	ac       repository.SocialAccountRepository
	ma       repository.MediaAssetRepository
	pm       repository.PostMediaRepository
	storage  MediaStorage
	canceler JobCanceller
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	pl repository.PlatformLinkRepository,
	ac repository.SocialAccountRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	storage MediaStorage,
	canceler JobCanceller) PostService {
	return &postService{
		db:       db,
		pr:       pr,
		pl:       pl,
		ac:       ac,
		ma:       ma,
		pm:       pm,
		storage:  storage,
		canceler: canceler,
	}
}

func (s *postService) CreatePost(ctx context.Context, workspaceID string, pc *transfer.PostCreation, files []*multipart.FileHeader) (postID string, err error) {
	if pc == nil {
		return "", invalidInput("post creation data is nil")
	}
	if workspaceID == "" {
		return "", invalidInput("workspace is not valid")
	}

	postType := pc.PostType
	switch {
	case postType == models.PostTypeStory:
		if len(files) == 0 {
			return "", invalidInput("a story needs a media file")
		}
	case len(files) > 1:
		postType = models.PostTypeMultiple
	default:
		postType = models.PostTypeSingle
	}
	if pc.Caption == "" && postType != models.PostTypeStory {
		return "", invalidInput("caption cannot be empty")
	}

	var selectedAccounts []string
	if err := json.Unmarshal([]byte(pc.SelectedAccounts), &selectedAccounts); err != nil {
		return "", invalidInput("invalid selected accounts format: %v", err)
	}
	selectedAccounts = dedupe(selectedAccounts)
	if len(selectedAccounts) == 0 {
		return "", invalidInput("no social accounts selected")
	}

	accounts, err := s.ac.ListByIDs(ctx, workspaceID, selectedAccounts)
	if err != nil {
		return "", fmt.Errorf("error checking social accounts: %w", err)
	}
	if len(accounts) != len(selectedAccounts) {
		return "", invalidInput("one or more selected social accounts do not exist")
	}

	postID, err = gonanoid.New()
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		ID:          postID,
		WorkspaceID: workspaceID,
		PostType:    postType,
		Caption:     pc.Caption,
		Title:       pc.Title,
		Status:      models.PostStatusDraft,
	}
	if err = s.pr.Create(ctx, tx, &post); err != nil {
		return "", fmt.Errorf("error creating post: %w", err)
	}

	if err = s.saveLinks(ctx, tx, postID, accounts); err != nil {
		return "", fmt.Errorf("error saving platform links: %w", err)
	}

	if err = s.processFiles(ctx, tx, workspaceID, postID, files); err != nil {
		return "", fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, nil
}

func (s *postService) saveLinks(ctx context.Context, tx *sql.Tx, postID string, accounts []*models.SocialAccount) error {
	for _, account := range accounts {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		link := models.PlatformLink{
			ID:              id,
			PostID:          postID,
			SocialAccountID: account.ID,
			Platform:        account.Platform,
			Status:          models.PostStatusDraft,
		}
		if err := s.pl.Create(ctx, tx, &link); err != nil {
			return fmt.Errorf("account %s: %w", account.ID, err)
		}
	}
	return nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, workspaceID, postID string, files []*multipart.FileHeader) error {
	for i, file := range files {
		fileBytes, err := readFile(file)
		if err != nil {
			return err
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return invalidInput("unsupported file type")
		}
		if _, ok := allowedMediaTypes[fileType.Extension]; !ok {
			return invalidInput("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, workspaceID, file.Filename, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}
	return b, nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, workspaceID, fileName, fileType string, file []byte) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	url, err := s.storage.Upload(ctx, id, file, fileType)
	if err != nil {
		return "", err
	}

	ma := models.MediaAsset{
		ID:          id,
		WorkspaceID: workspaceID,
		FileName:    fileName,
		FileType:    fileType,
		FileSize:    int64(len(file)),
		FileURL:     url,
	}
	if err := s.ma.Create(ctx, tx, &ma); err != nil {
		return "", err
	}
	return id, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, workspaceID string) (*models.Post, error) {
	if postID == "" {
		return nil, invalidInput("post id is not valid")
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info: %w", err)
	}
	if post == nil || post.WorkspaceID != workspaceID {
		slog.Info("post doesn't exist", "post_id", postID)
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (s *postService) List(ctx context.Context, workspaceID string) ([]*models.Post, error) {
	posts, err := s.pr.List(ctx, models.PostFilter{WorkspaceID: workspaceID}, models.Pagination{})
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, postID, workspaceID string) error {
	if postID == "" {
		return invalidInput("post id is not valid")
	}

	ok, err := s.pr.CheckByWorkspaceID(ctx, postID, workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPostNotFound
	}

	if s.canceler != nil {
		if _, err := s.canceler.CancelScheduledPost(ctx, postID); err != nil {
			return fmt.Errorf("error cancelling pending jobs: %w", err)
		}
	}

	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
