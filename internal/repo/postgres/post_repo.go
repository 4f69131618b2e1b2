package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitsmash/mapid/internal/domain/model"
)

var ErrPostNotFound = errors.New("post not found")

type PostRepo struct {
	pool *pgxpool.Pool
}

func NewPostRepo(pool *pgxpool.Pool) *PostRepo {
	return &PostRepo{pool: pool}
}

const postColumns = `
id, user_id, category, title, description,
lat, lng, address, neighborhood, city, state,
category_data, is_active, expires_at,
view_count, like_count, comment_count,
is_deleted, deleted_at, created_at, updated_at`

// CreateDraft inserts the post inside the caller's transaction so image
// records can join the same commit.
func (r *PostRepo) CreateDraft(ctx context.Context, tx pgx.Tx, post *model.Post) error {
	if tx == nil || post == nil {
		return errors.New("nil transaction or post")
	}

	err := tx.QueryRow(ctx, `
INSERT INTO posts (
	user_id, category, title, description,
	lat, lng, address, neighborhood, city, state,
	category_data, is_active, expires_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
RETURNING id, created_at, updated_at
`,
		post.UserID, post.CategoryName, post.Title, post.Description,
		post.Lat, post.Lng, post.Address, post.Neighborhood, post.City, post.State,
		post.CategoryData, post.IsActive, post.ExpiresAt,
	).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	return nil
}

func (r *PostRepo) Update(ctx context.Context, post *model.Post) error {
	if r.pool == nil {
		return errors.New("postgres pool is nil")
	}
	if post == nil || post.ID <= 0 {
		return errors.New("invalid post")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE posts
SET title = $2, description = $3,
	lat = $4, lng = $5, address = $6, neighborhood = $7, city = $8, state = $9,
	category_data = $10, is_active = $11, expires_at = $12, updated_at = NOW()
WHERE id = $1 AND NOT is_deleted
`,
		post.ID, post.Title, post.Description,
		post.Lat, post.Lng, post.Address, post.Neighborhood, post.City, post.State,
		post.CategoryData, post.IsActive, post.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}

	return nil
}

func (r *PostRepo) GetByID(ctx context.Context, id int64) (model.Post, error) {
	if r.pool == nil {
		return model.Post{}, errors.New("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+postColumns+`
FROM posts
WHERE id = $1 AND NOT is_deleted
`, id)

	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Post{}, ErrPostNotFound
		}
		return model.Post{}, fmt.Errorf("get post: %w", err)
	}

	return post, nil
}

func (r *PostRepo) ListByUser(ctx context.Context, userID int64) ([]model.Post, error) {
	if r.pool == nil {
		return nil, errors.New("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+postColumns+`
FROM posts
WHERE user_id = $1 AND NOT is_deleted
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate posts: %w", rows.Err())
	}

	return posts, nil
}

func (r *PostRepo) SoftDelete(ctx context.Context, tx pgx.Tx, id int64) error {
	if tx == nil {
		return errors.New("nil transaction")
	}

	tag, err := tx.Exec(ctx, `
UPDATE posts
SET is_deleted = TRUE, deleted_at = NOW(), is_active = FALSE, updated_at = NOW()
WHERE id = $1 AND NOT is_deleted
`, id)
	if err != nil {
		return fmt.Errorf("soft delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}

	return nil
}

func (r *PostRepo) HardDelete(ctx context.Context, tx pgx.Tx, id int64) error {
	if tx == nil {
		return errors.New("nil transaction")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("hard delete post: %w", err)
	}

	return nil
}

// MarkExpired deactivates posts whose expiration passed and reports how many
// rows changed.
func (r *PostRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, errors.New("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE posts
SET is_active = FALSE, updated_at = NOW()
WHERE is_active AND NOT is_deleted AND expires_at IS NOT NULL AND expires_at < $1
`, now)
	if err != nil {
		return 0, fmt.Errorf("mark expired posts: %w", err)
	}

	return tag.RowsAffected(), nil
}

// AddCounters applies drained engagement deltas. The like counter never goes
// below zero even when decrements outnumber the stored count.
func (r *PostRepo) AddCounters(ctx context.Context, id, views, likes, comments int64) error {
	if r.pool == nil {
		return errors.New("postgres pool is nil")
	}

	_, err := r.pool.Exec(ctx, `
UPDATE posts
SET view_count = view_count + $2,
	like_count = GREATEST(like_count + $3, 0),
	comment_count = GREATEST(comment_count + $4, 0),
	updated_at = NOW()
WHERE id = $1 AND NOT is_deleted
`, id, views, likes, comments)
	if err != nil {
		return fmt.Errorf("add post counters: %w", err)
	}

	return nil
}

func scanPost(row pgx.Row) (model.Post, error) {
	var post model.Post
	err := row.Scan(
		&post.ID, &post.UserID, &post.CategoryName, &post.Title, &post.Description,
		&post.Lat, &post.Lng, &post.Address, &post.Neighborhood, &post.City, &post.State,
		&post.CategoryData, &post.IsActive, &post.ExpiresAt,
		&post.ViewCount, &post.LikeCount, &post.CommentCount,
		&post.IsDeleted, &post.DeletedAt, &post.CreatedAt, &post.UpdatedAt,
	)
	return post, err
}
