package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/binlens/internal/core/domain"
)

func TestKeys(t *testing.T) {
	c := NewClientFrom(nil, "")
	assert.Equal(t, "binlens:journal:errors", c.errorIndexKey())
	assert.Equal(t, "binlens:journal:error:abc", c.errorKey("abc"))

	c = NewClientFrom(nil, "staging")
	assert.Equal(t, "staging:journal:partials", c.partialIndexKey())
	assert.Equal(t, "staging:journal:partial:p1", c.partialKey("p1"))
}

// scriptedRedis answers commands in process and records what was sent.
// Range queries return the ids listed for their index key.
type scriptedRedis struct {
	mu     sync.Mutex
	ranges map[string][]string
	sent   [][]any
}

func (h *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *scriptedRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.answer(cmd)
		return nil
	}
}

func (h *scriptedRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			h.answer(cmd)
		}
		return nil
	}
}

func (h *scriptedRedis) answer(cmd redis.Cmder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, cmd.Args())

	switch c := cmd.(type) {
	case *redis.StringSliceCmd:
		if c.Name() == "zrangebyscore" {
			c.SetVal(h.ranges[fmt.Sprint(c.Args()[1])])
		}
	case *redis.IntCmd:
		if c.Name() == "zrem" {
			c.SetVal(int64(len(c.Args()) - 2))
		}
	}
}

func (h *scriptedRedis) commands(name string) [][]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out [][]any
	for _, args := range h.sent {
		if len(args) > 0 && fmt.Sprint(args[0]) == name {
			out = append(out, args)
		}
	}
	return out
}

func TestJournal_DeleteOlderThanRemovesListedIDsOnly(t *testing.T) {
	h := &scriptedRedis{ranges: map[string][]string{
		"binlens:journal:errors":   {"e1", "e2"},
		"binlens:journal:partials": {"p1"},
	}}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(h)
	j := NewJournal(NewClientFrom(rdb, ""))

	n, err := j.DeleteOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Empty(t, h.commands("zremrangebyscore"))

	zrem := h.commands("zrem")
	require.Len(t, zrem, 2)
	assert.Equal(t, []any{"zrem", "binlens:journal:errors", "e1", "e2"}, zrem[0])
	assert.Equal(t, []any{"zrem", "binlens:journal:partials", "p1"}, zrem[1])

	del := h.commands("del")
	require.Len(t, del, 2)
	assert.Equal(t, []any{"del", "binlens:journal:error:e1", "binlens:journal:error:e2"}, del[0])
}

// TestJournal_Live runs against a real server when BINLENS_TEST_REDIS_URL is set.
func TestJournal_Live(t *testing.T) {
	url := os.Getenv("BINLENS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BINLENS_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := NewClient(Config{URL: url, KeyPrefix: "binlens-test-" + uuid.NewString()})
	require.NoError(t, err)
	j := NewJournal(client)
	defer j.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	mk := func(at time.Time) domain.OperationError {
		return domain.OperationError{
			ID:        uuid.NewString(),
			Timestamp: at,
			Component: "analyzer",
			Operation: "explain_function",
			Severity:  domain.SeverityMedium,
			Category:  domain.CategoryTimeout,
			Action:    domain.ActionRetry,
			Outcome:   domain.OutcomeRetrying,
		}
	}
	old, fresh := mk(now.Add(-time.Hour)), mk(now)

	require.NoError(t, j.RecordErrors(ctx, []domain.OperationError{old, fresh}))
	require.NoError(t, j.RecordErrors(ctx, []domain.OperationError{fresh}))
	require.NoError(t, j.RecordPartial(ctx, domain.PartialResult{ID: "p1", Timestamp: now, Completeness: 0.5}))

	all, err := j.RecentErrors(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, fresh.ID, all[0].ID)
	assert.Equal(t, domain.SeverityMedium, all[0].Severity)

	partials, err := j.RecentPartials(ctx, 5)
	require.NoError(t, err)
	require.Len(t, partials, 1)

	n, err := j.DeleteOlderThan(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.RecentErrors(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, fresh.ID, left[0].ID)

	_, err = j.DeleteOlderThan(ctx, now.Add(time.Minute))
	require.NoError(t, err)
}
