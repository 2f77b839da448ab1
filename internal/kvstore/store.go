package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "XOS-Runner/internal/errors"
)

// Store 是一个字符串键值存储。值整体覆盖，不做合并。
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Flush(ctx context.Context) error
	Close() error
}

// Config 描述如何打开一个存储。
type Config struct {
	Driver string
	// Path 仅用于 file 驱动。
	Path   string
	DSN    string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	ConnMaxLifetime time.Duration
}

// Open 根据驱动创建存储，namespace 用于区分令牌与 UA 绑定。
func Open(ctx context.Context, cfg Config, namespace string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      redisKey(cfg.RedisPrefix, namespace),
		})
	case "mysql":
		return NewMySQLStore(ctx, MySQLConfig{
			DSN:             cfg.DSN,
			Namespace:       namespace,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的存储驱动: %s", cfg.Driver))
	}
}

func redisKey(prefix, namespace string) string {
	if prefix == "" {
		prefix = "xos"
	}
	return prefix + ":" + namespace
}
