package enhance

import (
	"time"

	"github.com/BaSui01/memflow/event"
)

// 增强协调器发布的事件类型。
const (
	EventAgentRegistered event.Type = "agent_registered"
	EventTaskQueued      event.Type = "enhancement_task_queued"
	EventTaskCancelled   event.Type = "enhancement_task_cancelled"
	EventCompleted       event.Type = "enhancement_completed"
	EventFailed          event.Type = "enhancement_failed"
	EventPatternLearned  event.Type = "pattern_learned"
)

// 学习模式复用条件与历史上限。
const (
	historyPerAgent    = 100
	patternMinRate     = 0.5
	patternMaxIdle     = 30 * 24 * time.Hour
	successPatternTag  = "success_pattern"
	learnedPatternsKey = "learned_patterns"
)

// Agent 待增强的智能体：不透明的 id/类型/配置袋。
// 协调器只读写 Configuration，不解释其业务含义。
type Agent struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Context 一次增强的上下文。
type Context struct {
	Domain      string `json:"domain,omitempty"`
	CurrentTask string `json:"current_task,omitempty"`
	UserInput   string `json:"user_input,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// Result 一次增强的结果。失败时 Success 为 false 且 Error 给出原因，
// 不抛出异常。
type Result struct {
	AgentID         string        `json:"agent_id"`
	Success         bool          `json:"success"`
	Improvement     float64       `json:"improvement"`
	AppliedMemories []string      `json:"applied_memories,omitempty"`
	AppliedPatterns []string      `json:"applied_patterns,omitempty"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
	Timestamp       time.Time     `json:"timestamp"`
}

// TaskStatus 异步任务状态。cancelled 为终态，不会重试。
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
	StatusNotFound   TaskStatus = "not_found"
)

// Task 队列中的异步增强任务。
type Task struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Context   Context    `json:"context"`
	Status    TaskStatus `json:"status"`
	Result    *Result    `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LearningPattern 学习到的"记忆模式 → 改进"关联。
// 键形如 agentType_memoryType_sortedTags，成功率为滑动平均。
type LearningPattern struct {
	Key         string           `json:"key"`
	AgentType   string           `json:"agent_type"`
	MemoryType  string           `json:"memory_type"`
	Tags        []string         `json:"tags,omitempty"`
	SuccessRate float64          `json:"success_rate"`
	UseCount    int              `json:"use_count"`
	LastUsedAt  time.Time        `json:"last_used_at"`
	Contexts    []PatternContext `json:"contexts,omitempty"`
}

// PatternContext 模式曾经生效的上下文，用于判断可复用性。
type PatternContext struct {
	Domain string `json:"domain,omitempty"`
	Task   string `json:"task,omitempty"`
}

// overlaps 报告模式的任一历史上下文与当前上下文在域或任务上重合。
func (p *LearningPattern) overlaps(ec Context) bool {
	for _, pc := range p.Contexts {
		if pc.Domain != "" && pc.Domain == ec.Domain {
			return true
		}
		if pc.Task != "" && pc.Task == ec.CurrentTask {
			return true
		}
	}
	return false
}

// historyEntry 单个智能体的一次增强记录。
type historyEntry struct {
	Improvement float64
	MemoryTypes []string
	Tags        []string
	Timestamp   time.Time
}
