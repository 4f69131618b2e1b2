package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

const (
	counterKeyPrefix = "counters:post:"
	counterDirtySet  = "counters:dirty"

	counterFieldViews    = "views"
	counterFieldLikes    = "likes"
	counterFieldComments = "comments"
)

// CounterDeltas is one post's accumulated engagement changes since the last
// drain. Like and comment deltas may be negative.
type CounterDeltas struct {
	Views    int64
	Likes    int64
	Comments int64
}

// CounterRepo buffers engagement counters in redis so hot paths never touch
// postgres. A background worker drains the deltas into the posts table.
type CounterRepo struct {
	client *goredis.Client
}

func NewCounterRepo(client *goredis.Client) *CounterRepo {
	return &CounterRepo{client: client}
}

func (r *CounterRepo) IncrementView(ctx context.Context, postID int64) error {
	return r.add(ctx, postID, counterFieldViews, 1)
}

func (r *CounterRepo) IncrementLike(ctx context.Context, postID int64) error {
	return r.add(ctx, postID, counterFieldLikes, 1)
}

func (r *CounterRepo) DecrementLike(ctx context.Context, postID int64) error {
	return r.add(ctx, postID, counterFieldLikes, -1)
}

func (r *CounterRepo) IncrementComment(ctx context.Context, postID int64) error {
	return r.add(ctx, postID, counterFieldComments, 1)
}

func (r *CounterRepo) DecrementComment(ctx context.Context, postID int64) error {
	return r.add(ctx, postID, counterFieldComments, -1)
}

func (r *CounterRepo) add(ctx context.Context, postID int64, field string, delta int64) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if postID <= 0 {
		return fmt.Errorf("invalid post id %d", postID)
	}

	key := counterKey(postID)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, field, delta)
	pipe.SAdd(ctx, counterDirtySet, postID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment %s counter: %w", field, err)
	}

	return nil
}

// Drain reads and resets every dirty counter hash. Posts whose deltas all
// cancelled out are still returned so the caller clears them uniformly.
func (r *CounterRepo) Drain(ctx context.Context) (map[int64]CounterDeltas, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	ids, err := r.client.SMembers(ctx, counterDirtySet).Result()
	if err != nil {
		return nil, fmt.Errorf("read dirty counter set: %w", err)
	}

	out := make(map[int64]CounterDeltas, len(ids))
	for _, raw := range ids {
		postID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Unparseable member, drop it so it does not wedge the drain.
			_ = r.client.SRem(ctx, counterDirtySet, raw).Err()
			continue
		}

		key := counterKey(postID)
		pipe := r.client.TxPipeline()
		getAll := pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		pipe.SRem(ctx, counterDirtySet, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("drain counters for post %d: %w", postID, err)
		}

		fields := getAll.Val()
		out[postID] = CounterDeltas{
			Views:    parseCounter(fields[counterFieldViews]),
			Likes:    parseCounter(fields[counterFieldLikes]),
			Comments: parseCounter(fields[counterFieldComments]),
		}
	}

	return out, nil
}

func counterKey(postID int64) string {
	return counterKeyPrefix + strconv.FormatInt(postID, 10)
}

func parseCounter(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}
