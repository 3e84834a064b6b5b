// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证图谱默认值
	assert.Equal(t, 10000, cfg.Graph.MaxNodes)
	assert.Equal(t, 50000, cfg.Graph.MaxEdges)

	// 验证记忆存储默认值
	assert.Equal(t, 10000, cfg.Memory.MaxRecords)
	assert.Equal(t, time.Hour, cfg.Memory.SweepInterval)

	// 验证检索默认值
	assert.Equal(t, 5*time.Minute, cfg.Retrieval.CacheTTL)
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)

	// 验证增强默认值
	assert.Equal(t, time.Second, cfg.Enhance.DrainInterval)
	assert.Equal(t, 0.1, cfg.Enhance.ImprovementThreshold)

	// 验证 Redis 默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "memflow", cfg.Redis.KeyPrefix)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- 文件加载测试 ---

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
graph:
  max_nodes: 500
memory:
  max_records: 200
  sweep_interval: 10m
retrieval:
  cache_ttl: 30s
enhance:
  improvement_threshold: 0.25
redis:
  addr: "redis.internal:6379"
  key_prefix: "mf-test"
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Graph.MaxNodes)
	assert.Equal(t, 50000, cfg.Graph.MaxEdges, "unset fields keep defaults")
	assert.Equal(t, 200, cfg.Memory.MaxRecords)
	assert.Equal(t, 10*time.Minute, cfg.Memory.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.CacheTTL)
	assert.Equal(t, 0.25, cfg.Enhance.ImprovementThreshold)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "mf-test", cfg.Redis.KeyPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml::"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

// --- 环境变量覆盖测试 ---

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("MEMFLOW_GRAPH_MAX_NODES", "123")
	t.Setenv("MEMFLOW_MEMORY_SWEEP_INTERVAL", "90s")
	t.Setenv("MEMFLOW_ENHANCE_TASKS_PER_SECOND", "7.5")
	t.Setenv("MEMFLOW_PERSIST_ENABLED", "true")
	t.Setenv("MEMFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("MEMFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/memflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 123, cfg.Graph.MaxNodes)
	assert.Equal(t, 90*time.Second, cfg.Memory.SweepInterval)
	assert.Equal(t, 7.5, cfg.Enhance.TasksPerSecond)
	assert.True(t, cfg.Persist.Enabled)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"stdout", "/tmp/memflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("graph:\n  max_nodes: 500\n"), 0o600))

	t.Setenv("MEMFLOW_GRAPH_MAX_NODES", "999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 999, cfg.Graph.MaxNodes, "env beats file")
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("MEMFLOW_GRAPH_MAX_NODES", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

// --- 验证器测试 ---

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Graph.MaxNodes <= 0 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.NoError(t, err)

	_, err = NewLoader().
		WithValidator(func(*Config) error { return assert.AnError }).
		Load()
	require.Error(t, err)
}

// --- 日志构建测试 ---

func TestLogConfig_BuildLogger(t *testing.T) {
	logger, err := DefaultLogConfig().BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = LogConfig{Level: "nope"}.BuildLogger()
	require.Error(t, err)

	_, err = LogConfig{Level: "info", Format: "xml"}.BuildLogger()
	require.Error(t, err)
}
