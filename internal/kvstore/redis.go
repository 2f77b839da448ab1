package kvstore

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "XOS-Runner/internal/errors"
)

// RedisConfig 描述 Redis 存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key 是保存全部条目的 hash 名称。
	Key string
}

// RedisStore 使用一个 Redis hash 保存同一命名空间的条目。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 连接 Redis 并检查可用性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return newRedisStore(client, cfg.Key), nil
}

func newRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = redisKey("", "default")
	}
	return &RedisStore{client: client, key: key}
}

// Get 实现 Store。
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key, key).Result()
	if stdErrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取 %s 失败", key))
	}
	return v, true, nil
}

// Put 实现 Store。
func (s *RedisStore) Put(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入 %s 失败", key))
	}
	return nil
}

// Flush 对 Redis 无需操作。
func (s *RedisStore) Flush(context.Context) error { return nil }

// Close 关闭连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
