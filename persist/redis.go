package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig Redis 快照存储配置。
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 快照保留时长，0 表示永久
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisConfig 返回默认 Redis 配置。
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "memflow",
	}
}

// RedisSnapshotStore 基于 Redis 的快照存储，值为 JSON。
type RedisSnapshotStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisSnapshotStore 创建 Redis 快照存储并验证连接。
func NewRedisSnapshotStore(config RedisConfig, logger *zap.Logger) (*RedisSnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("persist: failed to connect to redis: %w", err)
	}

	return NewRedisSnapshotStoreWithClient(client, config.KeyPrefix, config.TTL, logger), nil
}

// NewRedisSnapshotStoreWithClient 用现成的客户端创建存储，测试用。
func NewRedisSnapshotStoreWithClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisSnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "memflow"
	}
	return &RedisSnapshotStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "redis_snapshot_store")),
	}
}

func (s *RedisSnapshotStore) snapshotKey(id string) string {
	return fmt.Sprintf("%s:snapshot:%s", s.keyPrefix, id)
}

func (s *RedisSnapshotStore) latestKey() string {
	return fmt.Sprintf("%s:snapshot:latest", s.keyPrefix)
}

func (s *RedisSnapshotStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("persist: snapshot id is required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.snapshotKey(snap.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist: failed to save snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.latestKey(), snap.ID, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist: failed to update latest pointer: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("id", snap.ID),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *RedisSnapshotStore) LoadSnapshot(ctx context.Context, id string) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(id)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("persist: failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("persist: failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *RedisSnapshotStore) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	id, err := s.client.Get(ctx, s.latestKey()).Result()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("persist: failed to resolve latest snapshot: %w", err)
	}
	return s.LoadSnapshot(ctx, id)
}

func (s *RedisSnapshotStore) DeleteSnapshot(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.snapshotKey(id)).Result()
	if err != nil {
		return fmt.Errorf("persist: failed to delete snapshot: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}

	// 最新指针指向被删快照时一并清理，失败不影响删除结果。
	if current, err := s.client.Get(ctx, s.latestKey()).Result(); err == nil && current == id {
		if err := s.client.Del(ctx, s.latestKey()).Err(); err != nil {
			s.logger.Warn("failed to clear latest pointer", zap.Error(err))
		}
	}
	return nil
}

// Close 关闭底层 Redis 连接。
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
