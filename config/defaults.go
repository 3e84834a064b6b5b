// =============================================================================
// 📦 MemFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Graph:     DefaultGraphConfig(),
		Memory:    DefaultMemoryConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Enhance:   DefaultEnhanceConfig(),
		Persist:   DefaultPersistConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultGraphConfig 返回默认图谱配置
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		MaxNodes: 10000,
		MaxEdges: 50000,
	}
}

// DefaultMemoryConfig 返回默认记忆存储配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxRecords:    10000,
		SweepInterval: time.Hour,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		CacheTTL:     5 * time.Minute,
		DefaultLimit: 10,
	}
}

// DefaultEnhanceConfig 返回默认增强配置
func DefaultEnhanceConfig() EnhanceConfig {
	return EnhanceConfig{
		DrainInterval:        time.Second,
		TasksPerSecond:       50,
		ImprovementThreshold: 0.1,
		RetrievalLimit:       10,
	}
}

// DefaultPersistConfig 返回默认持久化配置
func DefaultPersistConfig() PersistConfig {
	return PersistConfig{
		Enabled:  false,
		Debounce: 5 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "memflow",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "memflow",
		SampleRate:   1.0,
	}
}
