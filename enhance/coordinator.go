package enhance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/event"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/retrieval"
)

// agentTypeTags 智能体类型到检索标签集的固定映射。
// 未知类型退化为用类型名自身做标签。
var agentTypeTags = map[string][]string{
	"memory_manager":     {"memory", "storage", "retrieval"},
	"knowledge_curator":  {"knowledge", "graph", "semantic"},
	"task_planner":       {"task", "planning", "workflow"},
	"conversation_agent": {"conversation", "dialogue", "context"},
	"code_assistant":     {"code", "programming", "procedure"},
}

// Config 增强协调器配置。
type Config struct {
	// DrainInterval 队列排空周期。
	DrainInterval time.Duration `yaml:"drain_interval" json:"drain_interval"`
	// TasksPerSecond 排空速率上限。
	TasksPerSecond float64 `yaml:"tasks_per_second" json:"tasks_per_second"`
	// ImprovementThreshold 判定"成功增强"的改进阈值。
	ImprovementThreshold float64 `yaml:"improvement_threshold" json:"improvement_threshold"`
	// RetrievalLimit 每次增强检索的记忆数量上限。
	RetrievalLimit int `yaml:"retrieval_limit" json:"retrieval_limit"`
	// Now 时钟注入点，测试用。
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		DrainInterval:        time.Second,
		TasksPerSecond:       50,
		ImprovementThreshold: 0.1,
		RetrievalLimit:       10,
	}
}

// Coordinator 增强协调器：用检索到的记忆改写智能体配置，
// 度量改进并学习可复用的模式。
type Coordinator struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	history  map[string][]historyEntry
	patterns map[string]*LearningPattern
	tasks    map[string]*Task
	queue    []string

	retriever *retrieval.Engine
	memories  *memory.Store
	bus       event.Bus
	logger    *zap.Logger
	limiter   *rate.Limiter
	config    Config

	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCoordinator 创建协调器。retriever 与 memories 不可为 nil。
func NewCoordinator(retriever *retrieval.Engine, memories *memory.Store, config Config, bus event.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = DefaultConfig().DrainInterval
	}
	if config.TasksPerSecond <= 0 {
		config.TasksPerSecond = DefaultConfig().TasksPerSecond
	}
	if config.ImprovementThreshold <= 0 {
		config.ImprovementThreshold = DefaultConfig().ImprovementThreshold
	}
	if config.RetrievalLimit <= 0 {
		config.RetrievalLimit = DefaultConfig().RetrievalLimit
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Coordinator{
		agents:    make(map[string]*Agent),
		history:   make(map[string][]historyEntry),
		patterns:  make(map[string]*LearningPattern),
		tasks:     make(map[string]*Task),
		retriever: retriever,
		memories:  memories,
		bus:       bus,
		logger:    logger.With(zap.String("component", "enhance_coordinator")),
		limiter:   rate.NewLimiter(rate.Limit(config.TasksPerSecond), 1),
		config:    config,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RegisterAgent 注册或替换智能体。ID 为空时返回 false。
func (c *Coordinator) RegisterAgent(agent Agent) bool {
	if agent.ID == "" {
		c.logger.Warn("rejecting agent with empty id")
		return false
	}
	copied := agent
	copied.Configuration = copyConfig(agent.Configuration)

	c.mu.Lock()
	c.agents[copied.ID] = &copied
	c.mu.Unlock()

	c.emit(EventAgentRegistered, map[string]any{"agent_id": copied.ID, "agent_type": copied.Type})
	return true
}

// GetAgent 返回智能体副本。
func (c *Coordinator) GetAgent(id string) (Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	if !ok {
		return Agent{}, false
	}
	copied := *a
	copied.Configuration = copyConfig(a.Configuration)
	return copied, true
}

// EnhanceAgent 同步增强一个智能体。
//
// 基于智能体类型的标签集、上下文自由文本和该智能体历史上
// 有效的标签构建检索查询，把检索到的记忆按类型应用到配置上，
// 再叠加仍然有效的学习模式，最后度量改进并更新历史与模式库。
func (c *Coordinator) EnhanceAgent(ctx context.Context, agentID string, ec Context) Result {
	start := c.config.Now()
	res := Result{AgentID: agentID, Timestamp: start}

	c.mu.RLock()
	agent, ok := c.agents[agentID]
	var before map[string]any
	if ok {
		before = copyConfig(agent.Configuration)
	}
	agentType := ""
	if ok {
		agentType = agent.Type
	}
	c.mu.RUnlock()

	if !ok {
		res.Error = fmt.Sprintf("agent %q is not registered", agentID)
		res.Duration = c.config.Now().Sub(start)
		c.emit(EventFailed, map[string]any{"agent_id": agentID, "error": res.Error})
		return res
	}

	retrieved, err := c.retriever.Retrieve(ctx, c.buildQuery(agentID, agentType, ec))
	if err != nil {
		res.Error = fmt.Sprintf("retrieval failed: %v", err)
		res.Duration = c.config.Now().Sub(start)
		c.emit(EventFailed, map[string]any{"agent_id": agentID, "error": res.Error})
		return res
	}

	after := copyConfig(before)
	applied := c.applyMemories(after, retrieved.Memories, ec)
	reused := c.applyPatterns(after, agentType, ec)

	improvement := c.measureImprovement(agentID, before, after)

	c.mu.Lock()
	if current, still := c.agents[agentID]; still {
		current.Configuration = after
	}
	entry := historyEntry{
		Improvement: improvement,
		MemoryTypes: memoryTypes(applied),
		Tags:        appliedTags(applied),
		Timestamp:   c.config.Now(),
	}
	c.history[agentID] = append(c.history[agentID], entry)
	if len(c.history[agentID]) > historyPerAgent {
		c.history[agentID] = c.history[agentID][len(c.history[agentID])-historyPerAgent:]
	}
	c.mu.Unlock()

	success := improvement > c.config.ImprovementThreshold
	c.learn(agentType, applied, reused, ec, improvement, success)
	if success {
		c.persistSuccessPattern(agentID, agentType, applied, ec, improvement)
	}

	res.Success = true
	res.Improvement = improvement
	res.AppliedMemories = memoryIDs(applied)
	res.AppliedPatterns = reused
	res.Duration = c.config.Now().Sub(start)

	c.emit(EventCompleted, map[string]any{
		"agent_id":    agentID,
		"improvement": improvement,
		"applied":     len(applied),
	})
	return res
}

// buildQuery 构建增强检索查询。
// 标签 = 类型标签集 ∪ 正改进历史标签；文本来自当前任务与用户输入。
func (c *Coordinator) buildQuery(agentID, agentType string, ec Context) retrieval.Query {
	tags, ok := agentTypeTags[agentType]
	if !ok && agentType != "" {
		tags = []string{agentType}
	}
	tagSet := make(map[string]struct{}, len(tags))
	merged := append([]string(nil), tags...)
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	c.mu.RLock()
	for _, entry := range c.history[agentID] {
		if entry.Improvement <= 0 {
			continue
		}
		for _, t := range entry.Tags {
			if _, seen := tagSet[t]; !seen {
				tagSet[t] = struct{}{}
				merged = append(merged, t)
			}
		}
	}
	c.mu.RUnlock()

	return retrieval.Query{
		Text:  strings.TrimSpace(strings.TrimSpace(ec.CurrentTask) + " " + strings.TrimSpace(ec.UserInput)),
		Tags:  merged,
		Limit: c.config.RetrievalLimit,
		Context: memory.Context{
			Domain:    ec.Domain,
			SessionID: ec.SessionID,
			Task:      ec.CurrentTask,
		},
	}
}

// applyMemories 把检索到的记忆按类型写进配置，返回实际生效的记忆。
func (c *Coordinator) applyMemories(config map[string]any, records []memory.Record, ec Context) []memory.Record {
	applied := make([]memory.Record, 0, len(records))
	for _, rec := range records {
		switch rec.Type {
		case memory.TypeProcedural:
			appendToList(config, "workflow_patterns", rec.Content)
		case memory.TypeSemantic, memory.TypeFact:
			appendToList(config, "knowledge_base", rec.Content)
		case memory.TypeEpisodic:
			// 情景记忆只在任务吻合时才算策略。
			if ec.CurrentTask == "" || rec.Context.Task != ec.CurrentTask {
				continue
			}
			appendToList(config, "strategies", rec.Content)
		case memory.TypeWorking:
			// 工作记忆只在同一会话内覆盖当前上下文槽。
			if ec.SessionID == "" || rec.Context.SessionID != ec.SessionID {
				continue
			}
			config["current_context"] = rec.Content
		default:
			continue
		}
		applied = append(applied, rec)
	}
	return applied
}

// applyPatterns 复用仍然有效的学习模式：成功率达标、近期用过、
// 上下文重合。返回复用的模式键。
func (c *Coordinator) applyPatterns(config map[string]any, agentType string, ec Context) []string {
	now := c.config.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var reused []string
	for key, p := range c.patterns {
		if p.AgentType != agentType {
			continue
		}
		if p.SuccessRate < patternMinRate {
			continue
		}
		if now.Sub(p.LastUsedAt) > patternMaxIdle {
			continue
		}
		if !p.overlaps(ec) {
			continue
		}
		appendToList(config, learnedPatternsKey, key)
		p.LastUsedAt = now
		reused = append(reused, key)
	}
	sort.Strings(reused)
	return reused
}

// measureImprovement 度量改进：配置复杂度增量占七成,
// 历史平均改进占三成，收敛到 [0,1]。
func (c *Coordinator) measureImprovement(agentID string, before, after map[string]any) float64 {
	beforeSize := float64(configComplexity(before))
	afterSize := float64(configComplexity(after))
	if beforeSize < 1 {
		beforeSize = 1
	}
	delta := (afterSize - beforeSize) / beforeSize

	c.mu.RLock()
	var histSum float64
	histCount := 0
	for _, entry := range c.history[agentID] {
		histSum += entry.Improvement
		histCount++
	}
	c.mu.RUnlock()

	histAvg := 0.0
	if histCount > 0 {
		histAvg = histSum / float64(histCount)
	}

	improvement := 0.7*delta + 0.3*histAvg
	if improvement < 0 {
		return 0
	}
	if improvement > 1 {
		return 1
	}
	return improvement
}

// learn 更新学习模式库：每个生效的记忆类型对应一个模式键,
// 成功率按出现次数做滑动平均；复用过的模式也计入本次成败。
func (c *Coordinator) learn(agentType string, applied []memory.Record, reused []string, ec Context, improvement float64, success bool) {
	now := c.config.Now()
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	c.mu.Lock()
	var learned []string
	for _, rec := range applied {
		key := patternKey(agentType, string(rec.Type), rec.Tags)
		p, ok := c.patterns[key]
		if !ok {
			if !success {
				continue // 只有成功的增强才产生新模式
			}
			p = &LearningPattern{
				Key:        key,
				AgentType:  agentType,
				MemoryType: string(rec.Type),
				Tags:       sortedCopy(rec.Tags),
			}
			c.patterns[key] = p
			learned = append(learned, key)
		}
		p.SuccessRate = (p.SuccessRate*float64(p.UseCount) + outcome) / float64(p.UseCount+1)
		p.UseCount++
		p.LastUsedAt = now
		p.Contexts = appendContext(p.Contexts, PatternContext{Domain: ec.Domain, Task: ec.CurrentTask})
	}
	for _, key := range reused {
		p, ok := c.patterns[key]
		if !ok {
			continue
		}
		p.SuccessRate = (p.SuccessRate*float64(p.UseCount) + outcome) / float64(p.UseCount+1)
		p.UseCount++
	}
	c.mu.Unlock()

	// 事件在锁外发布，同步总线的处理器可以安全地回调协调器。
	for _, key := range learned {
		c.emit(EventPatternLearned, map[string]any{
			"pattern_key": key,
			"improvement": improvement,
		})
	}
}

// persistSuccessPattern 把成功的增强固化为一条长期记忆。
func (c *Coordinator) persistSuccessPattern(agentID, agentType string, applied []memory.Record, ec Context, improvement float64) {
	if c.memories == nil {
		return
	}
	types := memoryTypes(applied)
	rec := memory.Record{
		ID:      uuid.NewString(),
		Content: fmt.Sprintf("enhancement of %s agent %s improved by %.3f using %s memories", agentType, agentID, improvement, strings.Join(types, ",")),
		Type:    memory.TypeLongTerm,
		// 改进越大，该经验越重要。
		Importance: 0.5 + improvement/2,
		Tags:       append([]string{successPatternTag, agentType}, appliedTags(applied)...),
		Context: memory.Context{
			Domain:    ec.Domain,
			SessionID: ec.SessionID,
			Task:      ec.CurrentTask,
		},
		Metadata: map[string]any{
			"agent_id":     agentID,
			"improvement":  improvement,
			"memory_types": types,
		},
		CreatedAt: c.config.Now(),
		UpdatedAt: c.config.Now(),
	}
	if !c.memories.Store(rec) {
		c.logger.Warn("failed to persist success pattern", zap.String("agent_id", agentID))
	}
}

// History 返回某智能体的增强改进序列，从旧到新。
func (c *Coordinator) History(agentID string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.history[agentID]
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.Improvement
	}
	return out
}

// Patterns 返回全部学习模式的副本，按键排序。
func (c *Coordinator) Patterns() []LearningPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LearningPattern, 0, len(c.patterns))
	for _, p := range c.patterns {
		copied := *p
		copied.Tags = append([]string(nil), p.Tags...)
		copied.Contexts = append([]PatternContext(nil), p.Contexts...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RestorePatterns 从快照恢复模式库，覆盖同键条目。
func (c *Coordinator) RestorePatterns(patterns []LearningPattern) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patterns {
		copied := p
		copied.Tags = append([]string(nil), p.Tags...)
		copied.Contexts = append([]PatternContext(nil), p.Contexts...)
		c.patterns[copied.Key] = &copied
	}
}

func (c *Coordinator) emit(eventType event.Type, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.Event{
		Type:      eventType,
		Source:    "enhance_coordinator",
		Data:      data,
		Timestamp: c.config.Now(),
	})
}

// patternKey 形如 agentType_memoryType_tag1_tag2（标签排序后拼接）。
func patternKey(agentType, memoryType string, tags []string) string {
	parts := append([]string{agentType, memoryType}, sortedCopy(tags)...)
	return strings.Join(parts, "_")
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func appendContext(contexts []PatternContext, pc PatternContext) []PatternContext {
	if pc.Domain == "" && pc.Task == "" {
		return contexts
	}
	for _, existing := range contexts {
		if existing == pc {
			return contexts
		}
	}
	return append(contexts, pc)
}

func appendToList(config map[string]any, key string, value any) {
	list, _ := config[key].([]any)
	config[key] = append(list, value)
}

func copyConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// configComplexity 递归统计配置的键与元素个数。
func configComplexity(v any) int {
	switch t := v.(type) {
	case map[string]any:
		n := 0
		for _, inner := range t {
			n += 1 + configComplexity(inner)
		}
		return n
	case []any:
		n := 0
		for _, inner := range t {
			n += 1 + configComplexity(inner)
		}
		return n
	default:
		return 0
	}
}

func memoryIDs(records []memory.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func memoryTypes(records []memory.Record) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, r := range records {
		t := string(r.Type)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func appliedTags(records []memory.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		for _, t := range r.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
