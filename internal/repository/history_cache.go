package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

const defaultHistoryTTL = 10 * time.Minute

// HistoryCache keeps the most recent polled page of each room so a new subscription can
// render history before the first poll completes.
type HistoryCache interface {
	Load(ctx context.Context, roomID int) ([]models.ChatMessage, bool)
	Store(ctx context.Context, roomID int, messages []models.ChatMessage)
}

type redisHistoryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisHistoryCache creates a redis backed history cache. A nil client yields a cache that
// never hits.
func NewRedisHistoryCache(client *redis.Client, channelBase string, ttl time.Duration, logger zerolog.Logger) HistoryCache {
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	prefix := "chat:history"
	if channelBase != "" {
		prefix = channelBase + ":chat:history"
	}
	return &redisHistoryCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "history_cache").Logger(),
	}
}

func (c *redisHistoryCache) key(roomID int) string {
	return fmt.Sprintf("%s:%d", c.prefix, roomID)
}

func (c *redisHistoryCache) Load(ctx context.Context, roomID int) ([]models.ChatMessage, bool) {
	if c.client == nil {
		return nil, false
	}

	result, err := c.client.Get(ctx, c.key(roomID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Int("room_id", roomID).Msg("failed to read cached history")
		}
		return nil, false
	}

	var messages []models.ChatMessage
	if err := json.Unmarshal([]byte(result), &messages); err != nil {
		c.logger.Warn().Err(err).Int("room_id", roomID).Msg("failed to unmarshal cached history")
		return nil, false
	}
	return messages, true
}

func (c *redisHistoryCache) Store(ctx context.Context, roomID int, messages []models.ChatMessage) {
	if c.client == nil {
		return
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to marshal history for cache")
		return
	}

	if err := c.client.Set(ctx, c.key(roomID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Int("room_id", roomID).Msg("failed to cache history")
	}
}
