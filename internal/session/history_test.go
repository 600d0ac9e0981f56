package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendAndList(t *testing.T) {
	mr, rdb := newTestRedis(t)
	h := NewHistory(rdb, 3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Append(ctx, "u-1", Entry{
			Question: fmt.Sprintf("q%d", i),
			Success:  true,
		}))
	}

	entries, err := h.List(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3, "capped at max length")
	assert.Equal(t, "q5", entries[0].Question, "newest first")
	assert.Equal(t, "q3", entries[2].Question)
	assert.False(t, entries[0].Timestamp.IsZero())

	entries, err = h.List(ctx, "u-1", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	assert.Equal(t, time.Hour, mr.TTL(historyPrefix+"u-1"))
}

func TestHistory_PerUser(t *testing.T) {
	_, rdb := newTestRedis(t)
	h := NewHistory(rdb, 0, 0)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "u-1", Entry{Question: "mine"}))

	entries, err := h.List(ctx, "u-2", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistory_SkipsCorruptEntries(t *testing.T) {
	mr, rdb := newTestRedis(t)
	h := NewHistory(rdb, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "u-1", Entry{Question: "good"}))
	_, err := mr.Lpush(historyPrefix+"u-1", "{not json")
	require.NoError(t, err)

	entries, err := h.List(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].Question)
}

func TestHistory_Clear(t *testing.T) {
	_, rdb := newTestRedis(t)
	h := NewHistory(rdb, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "u-1", Entry{Question: "q"}))
	require.NoError(t, h.Clear(ctx, "u-1"))

	entries, err := h.List(ctx, "u-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
