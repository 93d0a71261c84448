package knowledge

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const conversionKeyPrefix = "docqa:markdown:"

// redisKV 转换缓存用到的Redis命令
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisConversionCache 以Redis保存markdown，键为文档ID
type RedisConversionCache struct {
	client redisKV
	ttl    time.Duration
}

// NewRedisConversionCache 创建Redis转换缓存
func NewRedisConversionCache(client redisKV, ttl time.Duration) *RedisConversionCache {
	return &RedisConversionCache{client: client, ttl: ttl}
}

func conversionKey(docID int64) string {
	return conversionKeyPrefix + strconv.FormatInt(docID, 10)
}

func (c *RedisConversionCache) Get(ctx context.Context, docID int64) (string, bool, error) {
	md, err := c.client.Get(ctx, conversionKey(docID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return md, true, nil
}

func (c *RedisConversionCache) Set(ctx context.Context, docID int64, markdown string) error {
	return c.client.Set(ctx, conversionKey(docID), markdown, c.ttl).Err()
}
