package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitsmash/mapid/internal/domain/enums"
	"github.com/gitsmash/mapid/internal/domain/model"
	postsvc "github.com/gitsmash/mapid/internal/services/posts"
)

// PipelineStore adapts the post repos to the submission service contract.
type PipelineStore struct {
	pool   *pgxpool.Pool
	posts  *PostRepo
	images *PostImageRepo
}

func NewPipelineStore(pool *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{
		pool:   pool,
		posts:  NewPostRepo(pool),
		images: NewPostImageRepo(pool),
	}
}

func (s *PipelineStore) InTx(ctx context.Context, fn func(ctx context.Context, tx postsvc.StoreTx) error) error {
	return WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pipelineTx{tx: tx, posts: s.posts, images: s.images})
	})
}

func (s *PipelineStore) GetPost(ctx context.Context, id int64) (model.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	return post, translateNotFound(err)
}

func (s *PipelineStore) UpdatePost(ctx context.Context, post *model.Post) error {
	return translateNotFound(s.posts.Update(ctx, post))
}

func (s *PipelineStore) ListImages(ctx context.Context, postID int64) ([]model.PostImage, error) {
	return s.images.ListByPost(ctx, postID)
}

func (s *PipelineStore) ListImageObjectKeys(ctx context.Context, postID int64) ([]string, error) {
	return s.images.ListObjectKeysByPost(ctx, postID)
}

func (s *PipelineStore) GetImage(ctx context.Context, id int64) (model.PostImage, error) {
	img, err := s.images.GetByID(ctx, id)
	return img, translateNotFound(err)
}

func (s *PipelineStore) SetPrimaryImage(ctx context.Context, postID, imageID int64) error {
	return translateNotFound(s.images.SetPrimary(ctx, postID, imageID))
}

func (s *PipelineStore) UpdateImageModeration(ctx context.Context, imageID int64, to enums.ModerationStatus) error {
	return translateNotFound(s.images.UpdateModerationStatus(ctx, imageID, to))
}

type pipelineTx struct {
	tx     pgx.Tx
	posts  *PostRepo
	images *PostImageRepo
}

func (t *pipelineTx) CreateDraft(ctx context.Context, post *model.Post) error {
	return t.posts.CreateDraft(ctx, t.tx, post)
}

func (t *pipelineTx) CreateImage(ctx context.Context, img *model.PostImage) error {
	return t.images.Create(ctx, t.tx, img)
}

func (t *pipelineTx) SoftDeletePost(ctx context.Context, id int64) error {
	return translateNotFound(t.posts.SoftDelete(ctx, t.tx, id))
}

func (t *pipelineTx) SoftDeleteImages(ctx context.Context, postID int64) error {
	return t.images.SoftDeleteByPost(ctx, t.tx, postID)
}

func (t *pipelineTx) HardDeletePost(ctx context.Context, id int64) error {
	return t.posts.HardDelete(ctx, t.tx, id)
}

func (t *pipelineTx) HardDeleteImages(ctx context.Context, postID int64) ([]string, error) {
	return t.images.HardDeleteByPost(ctx, t.tx, postID)
}

func translateNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPostNotFound) || errors.Is(err, ErrImageNotFound) {
		return postsvc.ErrNotFound
	}
	return err
}
