package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseTutor/core"
)

func TestMemorySummaryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySummaryCache()

	_, ok := c.Get(ctx, "v1", core.SummaryDetailed)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, core.SummaryEntry{
		VideoID: "v1", Type: core.SummaryDetailed, Content: "summary",
	}))

	entry, ok := c.Get(ctx, "v1", core.SummaryDetailed)
	require.True(t, ok)
	assert.Equal(t, "summary", entry.Content)

	// other type is a separate entry
	_, ok = c.Get(ctx, "v1", core.SummaryQuick)
	assert.False(t, ok)
}

func TestMemorySummaryCachePurgeVideo(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySummaryCache()

	require.NoError(t, c.Put(ctx, core.SummaryEntry{VideoID: "v1", Type: core.SummaryDetailed, Content: "a"}))
	require.NoError(t, c.Put(ctx, core.SummaryEntry{VideoID: "v1", Type: core.SummaryQuick, Content: "b"}))
	require.NoError(t, c.Put(ctx, core.SummaryEntry{VideoID: "v2", Type: core.SummaryDetailed, Content: "c"}))

	require.NoError(t, c.PurgeVideo(ctx, "v1"))

	_, ok := c.Get(ctx, "v1", core.SummaryDetailed)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "v1", core.SummaryQuick)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "v2", core.SummaryDetailed)
	assert.True(t, ok, "purge must not touch other videos")
}

func TestNewSummaryCacheSelection(t *testing.T) {
	assert.IsType(t, &MemorySummaryCache{}, NewSummaryCache("", nil))
	assert.IsType(t, &RedisSummaryCache{}, NewSummaryCache("localhost:6379", nil))
}
