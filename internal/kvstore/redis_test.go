package kvstore

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisKey(t *testing.T) {
	if got := redisKey("", "tokens"); got != "xos:tokens" {
		t.Fatalf("默认前缀错误: %s", got)
	}
	if got := redisKey("farm", "user_agents"); got != "farm:user_agents" {
		t.Fatalf("自定义前缀错误: %s", got)
	}
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("缺少地址时应返回错误")
	}
}

// 设置 XOS_TEST_REDIS_ADDR 后针对真实 Redis 运行。
func TestRedisStoreGetPut(t *testing.T) {
	addr := os.Getenv("XOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("未设置 XOS_TEST_REDIS_ADDR")
	}
	ctx := context.Background()
	key := redisKey("xos-test", t.Name())
	store, err := NewRedisStore(ctx, RedisConfig{Address: addr, Key: key})
	if err != nil {
		t.Fatalf("连接 Redis 失败: %v", err)
	}
	defer store.Close()
	defer redis.NewClient(&redis.Options{Addr: addr}).Del(ctx, key)

	if _, ok, err := store.Get(ctx, "0xabc"); ok || err != nil {
		t.Fatalf("空 hash 应返回 ok=false, 实际 %v %v", ok, err)
	}
	if err := store.Put(ctx, "0xabc", "ua"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if v, ok, err := store.Get(ctx, "0xabc"); !ok || err != nil || v != "ua" {
		t.Fatalf("读取结果错误: %q %v %v", v, ok, err)
	}
}
