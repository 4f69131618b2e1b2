package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitsmash/mapid/internal/domain/enums"
	"github.com/gitsmash/mapid/internal/domain/model"
)

var (
	ErrImageNotFound     = errors.New("post image not found")
	ErrInvalidTransition = errors.New("invalid moderation status transition")
)

type PostImageRepo struct {
	pool *pgxpool.Pool
}

func NewPostImageRepo(pool *pgxpool.Pool) *PostImageRepo {
	return &PostImageRepo{pool: pool}
}

const postImageColumns = `
id, post_id, user_id, original_filename, file_size, mime_type,
object_keys, urls, moderation_status, display_order, is_primary,
is_deleted, deleted_at, created_at, updated_at`

func (r *PostImageRepo) Create(ctx context.Context, tx pgx.Tx, img *model.PostImage) error {
	if tx == nil || img == nil {
		return errors.New("nil transaction or image")
	}
	if err := img.ValidateVariantMaps(); err != nil {
		return fmt.Errorf("invalid image record: %w", err)
	}

	err := tx.QueryRow(ctx, `
INSERT INTO post_images (
	post_id, user_id, original_filename, file_size, mime_type,
	object_keys, urls, moderation_status, display_order, is_primary,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
RETURNING id, created_at, updated_at
`,
		img.PostID, img.UserID, img.OriginalFilename, img.FileSize, img.MimeType,
		img.ObjectKeys, img.URLs, img.ModerationStatus, img.DisplayOrder, img.IsPrimary,
	).Scan(&img.ID, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert post image: %w", err)
	}

	return nil
}

func (r *PostImageRepo) GetByID(ctx context.Context, id int64) (model.PostImage, error) {
	if r.pool == nil {
		return model.PostImage{}, errors.New("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+postImageColumns+`
FROM post_images
WHERE id = $1 AND NOT is_deleted
`, id)

	img, err := scanPostImage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PostImage{}, ErrImageNotFound
		}
		return model.PostImage{}, fmt.Errorf("get post image: %w", err)
	}

	return img, nil
}

func (r *PostImageRepo) ListByPost(ctx context.Context, postID int64) ([]model.PostImage, error) {
	if r.pool == nil {
		return nil, errors.New("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+postImageColumns+`
FROM post_images
WHERE post_id = $1 AND NOT is_deleted
ORDER BY display_order ASC, id ASC
`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post images: %w", err)
	}
	defer rows.Close()

	return collectImages(rows)
}

// SetPrimary promotes one image and demotes its siblings in a single
// transaction so at most one primary exists per post.
func (r *PostImageRepo) SetPrimary(ctx context.Context, postID, imageID int64) error {
	if r.pool == nil {
		return errors.New("postgres pool is nil")
	}

	return WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
UPDATE post_images
SET is_primary = FALSE, updated_at = NOW()
WHERE post_id = $1 AND is_primary AND id <> $2
`, postID, imageID); err != nil {
			return fmt.Errorf("clear primary flags: %w", err)
		}

		tag, err := tx.Exec(ctx, `
UPDATE post_images
SET is_primary = TRUE, updated_at = NOW()
WHERE id = $1 AND post_id = $2 AND NOT is_deleted
`, imageID, postID)
		if err != nil {
			return fmt.Errorf("set primary image: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrImageNotFound
		}

		return nil
	})
}

// UpdateModerationStatus applies a status change after checking the allowed
// transitions. The row is locked so concurrent reviews cannot race past the
// transition check.
func (r *PostImageRepo) UpdateModerationStatus(ctx context.Context, imageID int64, to enums.ModerationStatus) error {
	if r.pool == nil {
		return errors.New("postgres pool is nil")
	}
	if !to.Valid() {
		return ErrInvalidTransition
	}

	return WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var current enums.ModerationStatus
		err := tx.QueryRow(ctx, `
SELECT moderation_status
FROM post_images
WHERE id = $1 AND NOT is_deleted
FOR UPDATE
`, imageID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrImageNotFound
			}
			return fmt.Errorf("lock post image: %w", err)
		}

		if !current.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
		}

		if _, err := tx.Exec(ctx, `
UPDATE post_images
SET moderation_status = $2, updated_at = NOW()
WHERE id = $1
`, imageID, to); err != nil {
			return fmt.Errorf("update moderation status: %w", err)
		}

		return nil
	})
}

func (r *PostImageRepo) SoftDeleteByPost(ctx context.Context, tx pgx.Tx, postID int64) error {
	if tx == nil {
		return errors.New("nil transaction")
	}

	if _, err := tx.Exec(ctx, `
UPDATE post_images
SET is_deleted = TRUE, deleted_at = NOW(), is_primary = FALSE, updated_at = NOW()
WHERE post_id = $1 AND NOT is_deleted
`, postID); err != nil {
		return fmt.Errorf("soft delete post images: %w", err)
	}

	return nil
}

// ListObjectKeysByPost returns every stored object key attached to the post,
// soft-deleted rows included, so callers can purge the object store before
// the rows go away.
func (r *PostImageRepo) ListObjectKeysByPost(ctx context.Context, postID int64) ([]string, error) {
	if r.pool == nil {
		return nil, errors.New("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT object_keys
FROM post_images
WHERE post_id = $1
`, postID)
	if err != nil {
		return nil, fmt.Errorf("list object keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var variantKeys map[enums.Variant]string
		if err := rows.Scan(&variantKeys); err != nil {
			return nil, fmt.Errorf("scan object keys: %w", err)
		}
		for _, key := range variantKeys {
			keys = append(keys, key)
		}
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate object keys: %w", rows.Err())
	}

	return keys, nil
}

// HardDeleteByPost removes the rows and returns every stored object key so
// the caller can clean up the object store.
func (r *PostImageRepo) HardDeleteByPost(ctx context.Context, tx pgx.Tx, postID int64) ([]string, error) {
	if tx == nil {
		return nil, errors.New("nil transaction")
	}

	rows, err := tx.Query(ctx, `
DELETE FROM post_images
WHERE post_id = $1
RETURNING object_keys
`, postID)
	if err != nil {
		return nil, fmt.Errorf("hard delete post images: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var variantKeys map[enums.Variant]string
		if err := rows.Scan(&variantKeys); err != nil {
			return nil, fmt.Errorf("scan object keys: %w", err)
		}
		for _, key := range variantKeys {
			keys = append(keys, key)
		}
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate deleted images: %w", rows.Err())
	}

	return keys, nil
}

// SoftDeleteOrphans marks images whose post is gone or soft-deleted and that
// are older than the cutoff.
func (r *PostImageRepo) SoftDeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, errors.New("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE post_images pi
SET is_deleted = TRUE, deleted_at = NOW(), is_primary = FALSE, updated_at = NOW()
WHERE NOT pi.is_deleted
  AND pi.created_at < $1
  AND NOT EXISTS (
	SELECT 1 FROM posts p WHERE p.id = pi.post_id AND NOT p.is_deleted
  )
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("soft delete orphaned images: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *PostImageRepo) ListPendingModeration(ctx context.Context, limit int) ([]model.PostImage, error) {
	return r.listByStatus(ctx, enums.ModerationStatusPending, limit)
}

func (r *PostImageRepo) ListFlagged(ctx context.Context, limit int) ([]model.PostImage, error) {
	return r.listByStatus(ctx, enums.ModerationStatusFlagged, limit)
}

func (r *PostImageRepo) listByStatus(ctx context.Context, status enums.ModerationStatus, limit int) ([]model.PostImage, error) {
	if r.pool == nil {
		return nil, errors.New("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+postImageColumns+`
FROM post_images
WHERE moderation_status = $1 AND NOT is_deleted
ORDER BY created_at ASC
LIMIT $2
`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list images by status: %w", err)
	}
	defer rows.Close()

	return collectImages(rows)
}

func collectImages(rows pgx.Rows) ([]model.PostImage, error) {
	images := make([]model.PostImage, 0)
	for rows.Next() {
		img, err := scanPostImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post image: %w", err)
		}
		images = append(images, img)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate post images: %w", rows.Err())
	}
	return images, nil
}

func scanPostImage(row pgx.Row) (model.PostImage, error) {
	var img model.PostImage
	err := row.Scan(
		&img.ID, &img.PostID, &img.UserID, &img.OriginalFilename, &img.FileSize, &img.MimeType,
		&img.ObjectKeys, &img.URLs, &img.ModerationStatus, &img.DisplayOrder, &img.IsPrimary,
		&img.IsDeleted, &img.DeletedAt, &img.CreatedAt, &img.UpdatedAt,
	)
	return img, err
}
