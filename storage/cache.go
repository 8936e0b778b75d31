package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"courseTutor/core"
)

// SummaryCache stores generated summaries with no expiry. Entries live until
// explicitly purged, which re-ingestion does for every summary type of the
// affected video.
type SummaryCache interface {
	Get(ctx context.Context, videoID string, typ core.SummaryType) (*core.SummaryEntry, bool)
	Put(ctx context.Context, entry core.SummaryEntry) error
	PurgeVideo(ctx context.Context, videoID string) error
}

func summaryKey(videoID string, typ core.SummaryType) string {
	return fmt.Sprintf("summary:%s|%s", videoID, typ)
}

// NewSummaryCache returns the Redis-backed cache when an address is
// configured, otherwise the in-process one.
func NewSummaryCache(redisAddr string, log *zap.Logger) SummaryCache {
	if redisAddr != "" {
		return NewRedisSummaryCache(redisAddr, log)
	}
	return NewMemorySummaryCache()
}

// ========== Redis ==========

type RedisSummaryCache struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisSummaryCache(addr string, log *zap.Logger) *RedisSummaryCache {
	return &RedisSummaryCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: log,
	}
}

func (c *RedisSummaryCache) Get(ctx context.Context, videoID string, typ core.SummaryType) (*core.SummaryEntry, bool) {
	data, err := c.rdb.Get(ctx, summaryKey(videoID, typ)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("summary cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var entry core.SummaryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn("summary cache entry corrupt, dropping", zap.String("video_id", videoID), zap.Error(err))
		c.rdb.Del(ctx, summaryKey(videoID, typ))
		return nil, false
	}
	return &entry, true
}

func (c *RedisSummaryCache) Put(ctx context.Context, entry core.SummaryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// TTL 0: no expiry, invalidation is explicit.
	return c.rdb.Set(ctx, summaryKey(entry.VideoID, entry.Type), data, 0).Err()
}

func (c *RedisSummaryCache) PurgeVideo(ctx context.Context, videoID string) error {
	keys := []string{
		summaryKey(videoID, core.SummaryDetailed),
		summaryKey(videoID, core.SummaryQuick),
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// ========== In-process ==========

type MemorySummaryCache struct {
	c *gocache.Cache
}

func NewMemorySummaryCache() *MemorySummaryCache {
	return &MemorySummaryCache{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemorySummaryCache) Get(ctx context.Context, videoID string, typ core.SummaryType) (*core.SummaryEntry, bool) {
	v, ok := m.c.Get(summaryKey(videoID, typ))
	if !ok {
		return nil, false
	}
	entry, ok := v.(core.SummaryEntry)
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (m *MemorySummaryCache) Put(ctx context.Context, entry core.SummaryEntry) error {
	m.c.Set(summaryKey(entry.VideoID, entry.Type), entry, gocache.NoExpiration)
	return nil
}

func (m *MemorySummaryCache) PurgeVideo(ctx context.Context, videoID string) error {
	prefix := fmt.Sprintf("summary:%s|", videoID)
	for key := range m.c.Items() {
		if strings.HasPrefix(key, prefix) {
			m.c.Delete(key)
		}
	}
	return nil
}
