package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisOpTimeout = 2 * time.Second
	scanBatchSize  = 500
	maxScanRounds  = 20
)

// RedisOptions 描述 Redis 连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore 基于 go-redis 的缓存实现，所有键自动加上 Prefix。
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 缓存并尝试 ping 一次；ping 失败只记录告警，读写按未命中处理。
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed, cache will miss until it recovers", zap.String("addr", opts.Addr), zap.Error(err))
	}

	return &RedisStore{client: client, prefix: opts.Prefix, logger: logger}
}

// Close 关闭底层连接池。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		s.logger.Warn("cache payload decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache payload encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+key, payload, ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// DeletePrefix 使用 SCAN 分批删除匹配前缀的键，轮数有上限。
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var cursor uint64
	for round := 0; round < maxScanRounds; round++ {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+prefix+"*", scanBatchSize).Result()
		if err != nil {
			s.logger.Warn("cache invalidate failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				s.logger.Warn("cache delete failed", zap.String("prefix", prefix), zap.Error(err))
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
