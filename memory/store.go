package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

// Config 记忆存储配置。
type Config struct {
	// 最大记录数，0 表示使用默认值。
	MaxRecords int `yaml:"max_records" json:"max_records"`
	// 过期清扫间隔，0 表示使用默认值（1 小时）。
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// Now 用于测试注入时钟，默认 time.Now。
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认记忆存储配置。
func DefaultConfig() Config {
	return Config{
		MaxRecords:    10000,
		SweepInterval: time.Hour,
	}
}

// Store 多索引内存记忆存储。
// 记录按类型、小写标签、会话、用户与领域建立二级索引，
// 单个互斥锁保护主映射与全部索引。
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record

	byType    map[Type]map[string]struct{}
	byTag     map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
	byUser    map[string]map[string]struct{}
	byDomain  map[string]map[string]struct{}

	maxRecords    int
	sweepInterval time.Duration
	now           func() time.Time

	running bool
	stopCh  chan struct{}

	bus    event.Bus
	logger *zap.Logger
}

// NewStore 创建记忆存储。bus 可以为 nil。
func NewStore(config Config, bus event.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxRecords <= 0 {
		config.MaxRecords = def.MaxRecords
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		records:       make(map[string]*Record),
		byType:        make(map[Type]map[string]struct{}),
		byTag:         make(map[string]map[string]struct{}),
		bySession:     make(map[string]map[string]struct{}),
		byUser:        make(map[string]map[string]struct{}),
		byDomain:      make(map[string]map[string]struct{}),
		maxRecords:    config.MaxRecords,
		sweepInterval: config.SweepInterval,
		now:           now,
		bus:           bus,
		logger:        logger.With(zap.String("component", "memory_store")),
	}
}

func (s *Store) emit(eventType event.Type, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:      eventType,
		Source:    "memory_store",
		Data:      data,
		Timestamp: s.now(),
	})
}

// Store 写入一条记录。缺失 ID 是对公共 API 契约的违反：
// 返回 false 并发布 error 事件，但不会 panic。
// 容量已满时先按 CreatedAt 淘汰最旧的一条记录，再插入新记录。
func (s *Store) Store(record Record) bool {
	if record.ID == "" {
		s.logger.Error("record id is required")
		s.emit(EventError, map[string]any{"op": "store", "reason": "missing id"})
		return false
	}

	s.mu.Lock()
	if _, exists := s.records[record.ID]; exists {
		s.mu.Unlock()
		return false
	}

	var evictedID string
	if len(s.records) >= s.maxRecords {
		evictedID, _ = s.evictOldestLocked()
	}

	ts := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = ts
	}
	record.UpdatedAt = ts
	if record.LastAccessedAt.IsZero() {
		record.LastAccessedAt = ts
	}

	copied := copyRecord(&record)
	s.records[record.ID] = &copied
	s.indexLocked(&copied)
	s.mu.Unlock()

	if evictedID != "" {
		s.logger.Debug("evicted oldest record", zap.String("id", evictedID))
		s.emit(EventMemoryEvicted, map[string]any{"id": evictedID})
	}
	s.logger.Debug("memory stored", zap.String("id", record.ID), zap.String("type", string(record.Type)))
	s.emit(EventMemoryStored, map[string]any{"id": record.ID, "type": string(record.Type)})
	return true
}

// StoreBatch 顺序写入一批记录，返回成功写入的子集。
// 单条失败不会中断整批。
func (s *Store) StoreBatch(records []Record) []Record {
	stored := make([]Record, 0, len(records))
	for _, record := range records {
		if s.Store(record) {
			stored = append(stored, record)
		}
	}
	return stored
}

// Update 部分更新记录：先解除旧索引，合并字段后重建索引。
func (s *Store) Update(id string, update Update) bool {
	s.mu.Lock()
	record, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	s.unindexLocked(record)

	if update.Content != nil {
		record.Content = *update.Content
	}
	if update.Type != nil {
		record.Type = *update.Type
	}
	if update.Importance != nil {
		record.Importance = clamp01(*update.Importance)
	}
	if update.Tags != nil {
		record.Tags = append([]string(nil), (*update.Tags)...)
	}
	if update.Context != nil {
		record.Context = *update.Context
	}
	if len(update.Metadata) > 0 {
		if record.Metadata == nil {
			record.Metadata = make(map[string]any, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			record.Metadata[k] = v
		}
	}
	if update.ExpiresAt != nil {
		record.ExpiresAt = *update.ExpiresAt
	}
	if update.KnowledgeLinks != nil {
		record.KnowledgeLinks = append([]string(nil), (*update.KnowledgeLinks)...)
	}
	record.UpdatedAt = s.now()

	s.indexLocked(record)
	s.mu.Unlock()

	s.emit(EventMemoryUpdated, map[string]any{"id": id})
	return true
}

// Remove 删除记录，先解除索引再从主映射移除。
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	record, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.unindexLocked(record)
	delete(s.records, id)
	s.mu.Unlock()

	s.emit(EventMemoryRemoved, map[string]any{"id": id})
	return true
}

// Get 按 ID 返回记录副本，并更新访问时间与访问计数。
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	record.LastAccessedAt = s.now()
	record.AccessCount++
	return copyRecord(record), true
}

// Peek 按 ID 返回记录副本，不更新访问元数据。
func (s *Store) Peek(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(record), true
}

// ByType 返回指定类型的全部记录。
func (s *Store) ByType(memoryType Type) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byType[memoryType])
}

// ByTag 返回携带指定标签（不区分大小写）的全部记录。
func (s *Store) ByTag(tag string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byTag[strings.ToLower(tag)])
}

// BySession 返回指定会话的全部记录。
func (s *Store) BySession(sessionID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySession[sessionID])
}

// ByUser 返回指定用户的全部记录。
func (s *Store) ByUser(userID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byUser[userID])
}

// ByDomain 返回指定领域（不区分大小写）的全部记录。
func (s *Store) ByDomain(domain string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byDomain[strings.ToLower(domain)])
}

// All 返回全部记录副本。
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, copyRecord(record))
	}
	return out
}

// Import 批量落盘记录并保留原有时间戳，用于快照恢复。
// 缺失 ID 或与现存记录重复的条目被跳过，返回实际写入数量。
// 不发布逐条事件，导入完成视为一次整体恢复。
func (s *Store) Import(records []Record) int {
	s.mu.Lock()
	imported := 0
	for i := range records {
		record := records[i]
		if record.ID == "" {
			continue
		}
		if _, exists := s.records[record.ID]; exists {
			continue
		}
		if len(s.records) >= s.maxRecords {
			break
		}
		copied := copyRecord(&record)
		s.records[record.ID] = &copied
		s.indexLocked(&copied)
		imported++
	}
	s.mu.Unlock()

	if imported > 0 {
		s.logger.Info("records imported", zap.Int("count", imported))
	}
	return imported
}

// Count 返回记录数量。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// FinalizeConversation 结束一个会话：提升该会话全部记录的
// 访问计数并刷新更新时间，随后发布 conversation_finalized。
func (s *Store) FinalizeConversation(sessionID string) int {
	s.mu.Lock()
	ids := s.bySession[sessionID]
	ts := s.now()
	count := 0
	for id := range ids {
		if record, ok := s.records[id]; ok {
			record.AccessCount++
			record.UpdatedAt = ts
			count++
		}
	}
	s.mu.Unlock()

	s.emit(EventConversationFinalized, map[string]any{"session_id": sessionID, "records": count})
	return count
}

// SweepExpired 清除所有已过期的记录，返回清除数量。
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.Lock()
	var expired []string
	for id, record := range s.records {
		if record.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.unindexLocked(s.records[id])
		delete(s.records, id)
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.emit(EventMemoryExpired, map[string]any{"id": id})
	}
	if len(expired) > 0 {
		s.logger.Debug("expired records swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper 启动后台过期清扫循环。重复启动是空操作。
func (s *Store) StartSweeper(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepExpired()
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopSweeper 停止后台清扫循环。
func (s *Store) StopSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// evictOldestLocked 淘汰 CreatedAt 最早的一条记录，需持有写锁。
func (s *Store) evictOldestLocked() (string, bool) {
	var oldestID string
	var oldestAt time.Time
	for id, record := range s.records {
		if oldestID == "" || record.CreatedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = record.CreatedAt
		}
	}
	if oldestID == "" {
		return "", false
	}
	s.unindexLocked(s.records[oldestID])
	delete(s.records, oldestID)
	return oldestID, true
}

func (s *Store) collectLocked(ids map[string]struct{}) []Record {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Record, 0, len(ids))
	for id := range ids {
		if record, ok := s.records[id]; ok {
			out = append(out, copyRecord(record))
		}
	}
	return out
}

func (s *Store) indexLocked(record *Record) {
	addToIndex := func(index map[string]map[string]struct{}, key string) {
		if key == "" {
			return
		}
		if index[key] == nil {
			index[key] = make(map[string]struct{})
		}
		index[key][record.ID] = struct{}{}
	}

	if s.byType[record.Type] == nil {
		s.byType[record.Type] = make(map[string]struct{})
	}
	s.byType[record.Type][record.ID] = struct{}{}

	for _, tag := range record.Tags {
		addToIndex(s.byTag, strings.ToLower(tag))
	}
	addToIndex(s.bySession, record.Context.SessionID)
	addToIndex(s.byUser, record.Context.UserID)
	addToIndex(s.byDomain, strings.ToLower(record.Context.Domain))
}

func (s *Store) unindexLocked(record *Record) {
	removeFromIndex := func(index map[string]map[string]struct{}, key string) {
		if key == "" {
			return
		}
		if ids, ok := index[key]; ok {
			delete(ids, record.ID)
			if len(ids) == 0 {
				delete(index, key)
			}
		}
	}

	if ids, ok := s.byType[record.Type]; ok {
		delete(ids, record.ID)
		if len(ids) == 0 {
			delete(s.byType, record.Type)
		}
	}
	for _, tag := range record.Tags {
		removeFromIndex(s.byTag, strings.ToLower(tag))
	}
	removeFromIndex(s.bySession, record.Context.SessionID)
	removeFromIndex(s.byUser, record.Context.UserID)
	removeFromIndex(s.byDomain, strings.ToLower(record.Context.Domain))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
