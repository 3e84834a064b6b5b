package memory

import (
	"time"

	"github.com/BaSui01/memflow/event"
)

// 记忆存储发布的事件类型。
const (
	EventMemoryStored          event.Type = "memory_stored"
	EventMemoryUpdated         event.Type = "memory_updated"
	EventMemoryRemoved         event.Type = "memory_removed"
	EventMemoryExpired         event.Type = "memory_expired"
	EventMemoryEvicted         event.Type = "memory_evicted"
	EventConversationFinalized event.Type = "conversation_finalized"
	EventError                 event.Type = "error"
)

// Type 记忆类型。
type Type string

const (
	TypeShortTerm    Type = "short_term"
	TypeLongTerm     Type = "long_term"
	TypeEpisodic     Type = "episodic"
	TypeSemantic     Type = "semantic"
	TypeProcedural   Type = "procedural"
	TypeWorking      Type = "working"
	TypeConsolidated Type = "consolidated"
	TypeFact         Type = "fact"
)

// Valid 报告 t 是否为已知记忆类型。
func (t Type) Valid() bool {
	switch t {
	case TypeShortTerm, TypeLongTerm, TypeEpisodic, TypeSemantic,
		TypeProcedural, TypeWorking, TypeConsolidated, TypeFact:
		return true
	}
	return false
}

// Context 记忆的来源上下文。空字段表示未知。
type Context struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Task      string `json:"task,omitempty"`
}

// Record 一条记忆记录：带类型、重要度与时间戳的可检索信息单元，
// 可选地通过 KnowledgeLinks 弱引用知识图谱节点（不拥有节点）。
type Record struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Type           Type           `json:"type"`
	Importance     float64        `json:"importance"`
	Tags           []string       `json:"tags,omitempty"`
	Context        Context        `json:"context"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int            `json:"access_count"`
	// ExpiresAt 为零值时永不过期。
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// KnowledgeLinks 指向图谱节点的弱引用。
	KnowledgeLinks []string `json:"knowledge_links,omitempty"`
}

// Expired 报告记录在 now 时刻是否已过期。
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Update 描述对记录的部分更新。nil 字段保持原值。
type Update struct {
	Content        *string
	Type           *Type
	Importance     *float64
	Tags           *[]string
	Context        *Context
	Metadata       map[string]any
	ExpiresAt      *time.Time
	KnowledgeLinks *[]string
}

func copyRecord(r *Record) Record {
	copied := *r
	copied.Tags = append([]string(nil), r.Tags...)
	copied.KnowledgeLinks = append([]string(nil), r.KnowledgeLinks...)
	if r.Metadata != nil {
		copied.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			copied.Metadata[k] = v
		}
	}
	return copied
}
