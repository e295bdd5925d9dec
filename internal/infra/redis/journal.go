package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/storage"
)

// Journal implements storage.FailureJournal using Redis. Each entry is a
// JSON string key indexed by a sorted set scored by its timestamp in
// milliseconds.
type Journal struct {
	c *Client
}

var _ storage.FailureJournal = (*Journal)(nil)

// NewJournal creates a new Redis-backed failure journal.
func NewJournal(client *Client) *Journal {
	return &Journal{c: client}
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// RecordErrors stores error records. Ids already indexed are skipped.
func (j *Journal) RecordErrors(ctx context.Context, errs []domain.OperationError) error {
	if len(errs) == 0 {
		return nil
	}

	_, err := j.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range errs {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal operation error: %w", err)
			}
			pipe.SetNX(ctx, j.c.errorKey(e.ID), data, 0)
			pipe.ZAddNX(ctx, j.c.errorIndexKey(), redis.Z{Score: score(e.Timestamp), Member: e.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record operation errors: %w", err)
	}
	return nil
}

// RecordPartial stores one partial result.
func (j *Journal) RecordPartial(ctx context.Context, p domain.PartialResult) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal partial result: %w", err)
	}

	_, err = j.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, j.c.partialKey(p.ID), data, 0)
		pipe.ZAdd(ctx, j.c.partialIndexKey(), redis.Z{Score: score(p.Timestamp), Member: p.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record partial result: %w", err)
	}
	return nil
}

// RecentErrors returns up to limit records, newest first.
func (j *Journal) RecentErrors(ctx context.Context, limit int) ([]domain.OperationError, error) {
	var out []domain.OperationError
	err := j.recent(ctx, j.c.errorIndexKey(), j.c.errorKey, limit, func(data []byte) error {
		var e domain.OperationError
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// RecentPartials returns up to limit partial results, newest first.
func (j *Journal) RecentPartials(ctx context.Context, limit int) ([]domain.PartialResult, error) {
	var out []domain.PartialResult
	err := j.recent(ctx, j.c.partialIndexKey(), j.c.partialKey, limit, func(data []byte) error {
		var p domain.PartialResult
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (j *Journal) recent(
	ctx context.Context,
	index string,
	key func(string) string,
	limit int,
	decode func([]byte) error,
) error {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := j.c.rdb.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return fmt.Errorf("zrevrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	values, err := j.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("mget failed: %w", err)
	}

	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Data gone but id still indexed.
			stale = append(stale, ids[i])
			continue
		}
		if err := decode([]byte(s)); err != nil {
			return fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
	}
	if len(stale) > 0 {
		j.c.rdb.ZRem(ctx, index, stale...)
	}
	return nil
}

// DeleteOlderThan removes entries scored before cutoff.
func (j *Journal) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	var total int64
	for _, idx := range []struct {
		index string
		key   func(string) string
	}{
		{j.c.errorIndexKey(), j.c.errorKey},
		{j.c.partialIndexKey(), j.c.partialKey},
	} {
		ids, err := j.c.rdb.ZRangeByScore(ctx, idx.index, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
		if err != nil {
			return total, fmt.Errorf("zrangebyscore failed: %w", err)
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		members := make([]any, len(ids))
		for i, id := range ids {
			keys[i] = idx.key(id)
			members[i] = id
		}

		// Only the listed ids leave the index; entries indexed after the
		// range query keep both their key and their index entry.
		var removed *redis.IntCmd
		_, err = j.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			removed = pipe.ZRem(ctx, idx.index, members...)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("failed to prune journal: %w", err)
		}
		total += removed.Val()
	}
	return total, nil
}

// Close closes the Redis connection.
func (j *Journal) Close() error {
	return j.c.Close()
}
