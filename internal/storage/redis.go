package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cv-core-go/internal/config"
	"cv-core-go/internal/constants"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound Redis键不存在
var ErrNotFound = redis.Nil

// Redis 提供缓存与协调功能：上传去重MD5集合、update串行化锁、最新版本键缓存
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis客户端连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	client := redis.NewClient(opt)

	// OpenTelemetry钩子记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// CheckAndAddRawFileMD5 原子地检查并登记上传文件MD5。
// 返回true表示此前已存在（重复上传），false表示首次登记。
func (r *Redis) CheckAndAddRawFileMD5(ctx context.Context, md5Hex string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	// SADD的返回值区分新旧成员，单命令即原子
	added, err := r.Client.SAdd(ctx, constants.RawFileMD5SetKey, md5Hex).Result()
	if err != nil {
		return false, fmt.Errorf("登记文件MD5失败: %w", err)
	}
	// 集合整体的过期时间只在首次设置
	if err := r.Client.ExpireNX(ctx, constants.RawFileMD5SetKey, r.GetMD5ExpireDuration()).Err(); err != nil {
		return false, fmt.Errorf("设置MD5集合过期时间失败: %w", err)
	}
	return added == 0, nil
}

// RemoveRawFileMD5 从去重集合移除MD5（处理失败时回滚登记）
func (r *Redis) RemoveRawFileMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.SRem(ctx, constants.RawFileMD5SetKey, md5Hex).Err()
}

// CacheLatestVersionKey 缓存候选人的最新版本键
func (r *Redis) CacheLatestVersionKey(ctx context.Context, candidateID, versionKey string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	key := constants.LatestVersionKeyPrefix + candidateID
	return r.Client.Set(ctx, key, versionKey, constants.LatestVersionCacheTTL).Err()
}

// GetCachedLatestVersionKey 读取缓存的最新版本键，未命中返回空串
func (r *Redis) GetCachedLatestVersionKey(ctx context.Context, candidateID string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	key := constants.LatestVersionKeyPrefix + candidateID
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取最新版本缓存失败: %w", err)
	}
	return val, nil
}

// InvalidateLatestVersionKey 使最新版本缓存失效（新版本写入后调用）
func (r *Redis) InvalidateLatestVersionKey(ctx context.Context, candidateID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Del(ctx, constants.LatestVersionKeyPrefix+candidateID).Err()
}

// UpdateLockTTL 返回update串行化锁的过期时间
func (r *Redis) UpdateLockTTL() time.Duration {
	seconds := r.config.UpdateLockTTLSeconds
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// AcquireUpdateLock 获取候选人update串行化锁。
// 返回锁持有者标识，未获取到时返回空串（不是错误）。
func (r *Redis) AcquireUpdateLock(ctx context.Context, candidateID string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockKey := constants.UpdateLockKeyPrefix + candidateID
	// 锁持有者标识必须全局唯一，避免跨进程误释放
	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, r.UpdateLockTTL()).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseUpdateLock 释放update锁，Lua脚本保证只释放自己持有的锁
func (r *Redis) ReleaseUpdateLock(ctx context.Context, candidateID, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	lockKey := constants.UpdateLockKeyPrefix + candidateID
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}
	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}
	return false, nil
}
