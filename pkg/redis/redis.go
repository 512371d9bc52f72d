package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetClient 设置 Redis 客户端（由 internal/initial 调用）
func SetClient(c *redis.Client) {
	client = c
}

// Close 关闭 Redis 连接
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// IsConnected 检查 Redis 是否已连接
func IsConnected() bool {
	return client != nil
}

// GetClient 获取原始 Redis 客户端（高级用法）
func GetClient() *redis.Client {
	return client
}

func checkClient() error {
	if client == nil {
		return fmt.Errorf("redis not connected")
	}
	return nil
}

// ==================== String 操作 ====================

// Get 获取字符串值
func Get(ctx context.Context, key string) (string, error) {
	if err := checkClient(); err != nil {
		return "", err
	}
	return client.Get(ctx, key).Result()
}

// Set 设置字符串值
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := checkClient(); err != nil {
		return err
	}
	return client.Set(ctx, key, value, expiration).Err()
}

// Del 删除键
func Del(ctx context.Context, keys ...string) error {
	if err := checkClient(); err != nil {
		return err
	}
	return client.Del(ctx, keys...).Err()
}

// ==================== 分布式锁 ====================

// TryLock 以 SETNX 语义尝试获取租约锁；owner 用于避免误释放他人持有的锁。
// 返回 false 表示锁已被占用。Redis 未配置时返回错误，由调用方决定回退策略。
func TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := checkClient(); err != nil {
		return false, err
	}
	return client.SetNX(ctx, key, owner, ttl).Result()
}

// Unlock 仅当 owner 匹配时释放锁
func Unlock(ctx context.Context, key, owner string) error {
	if err := checkClient(); err != nil {
		return err
	}
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`
	return client.Eval(ctx, script, []string{key}, owner).Err()
}

// Ping 健康检查
func Ping(ctx context.Context) error {
	if client == nil {
		return errors.New("redis not connected")
	}
	return client.Ping(ctx).Err()
}
