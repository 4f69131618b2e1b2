package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	redrepo "github.com/gitsmash/mapid/internal/repo/redis"
)

const defaultOrphanAge = 7 * 24 * time.Hour

type postExpirer interface {
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	AddCounters(ctx context.Context, id, views, likes, comments int64) error
}

type orphanCleaner interface {
	SoftDeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error)
}

type CounterSource interface {
	Drain(ctx context.Context) (map[int64]redrepo.CounterDeltas, error)
}

// Job is the periodic maintenance pass: expire posts, retire orphaned
// images and flush buffered engagement counters into postgres.
type Job struct {
	posts     postExpirer
	images    orphanCleaner
	counters  CounterSource
	orphanAge time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func New(posts postExpirer, images orphanCleaner, counters CounterSource, orphanAge time.Duration, logger *zap.Logger) *Job {
	if orphanAge <= 0 {
		orphanAge = defaultOrphanAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		posts:     posts,
		images:    images,
		counters:  counters,
		orphanAge: orphanAge,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	now := j.now()

	if j.posts != nil {
		expired, err := j.posts.MarkExpired(ctx, now)
		if err != nil {
			return fmt.Errorf("mark expired posts: %w", err)
		}
		if expired > 0 {
			j.logger.Info("expired posts deactivated", zap.Int64("count", expired))
		}
	}

	if j.images != nil {
		cutoff := now.Add(-j.orphanAge)
		orphaned, err := j.images.SoftDeleteOrphans(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("soft delete orphaned images: %w", err)
		}
		if orphaned > 0 {
			j.logger.Info("orphaned images retired", zap.Int64("count", orphaned))
		}
	}

	if j.counters != nil && j.posts != nil {
		deltas, err := j.counters.Drain(ctx)
		if err != nil {
			return fmt.Errorf("drain engagement counters: %w", err)
		}
		flushed := 0
		for postID, d := range deltas {
			if d.Views == 0 && d.Likes == 0 && d.Comments == 0 {
				continue
			}
			if err := j.posts.AddCounters(ctx, postID, d.Views, d.Likes, d.Comments); err != nil {
				// A single failed flush loses at most one drain cycle of
				// deltas, keep going for the rest.
				j.logger.Warn("counter flush failed", zap.Int64("post_id", postID), zap.Error(err))
				continue
			}
			flushed++
		}
		if flushed > 0 {
			j.logger.Info("engagement counters flushed", zap.Int("posts", flushed))
		}
	}

	return nil
}
