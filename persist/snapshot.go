package persist

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/memflow/enhance"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/memory"
)

// Snapshot 全量状态快照：图谱导出 + 记忆记录 + 学习模式。
// 时间戳统一为 RFC3339Nano UTC 字符串，便于跨进程搬运。
type Snapshot struct {
	ID        string                    `json:"id"`
	CreatedAt string                    `json:"created_at"`
	Graph     graph.ExportData          `json:"graph"`
	Memories  []ExportedRecord          `json:"memories"`
	Patterns  []enhance.LearningPattern `json:"patterns,omitempty"`
}

// ExportedRecord 记忆记录的序列化形态。
type ExportedRecord struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	Importance     float64        `json:"importance"`
	Tags           []string       `json:"tags,omitempty"`
	Context        memory.Context `json:"context"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	LastAccessedAt string         `json:"last_accessed_at"`
	AccessCount    int            `json:"access_count"`
	ExpiresAt      string         `json:"expires_at,omitempty"`
	KnowledgeLinks []string       `json:"knowledge_links,omitempty"`
}

// Capture 采集当前全量状态。coordinator 可为 nil（无学习模式）。
func Capture(graphStore *graph.Store, memories *memory.Store, coordinator *enhance.Coordinator) Snapshot {
	snap := Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if graphStore != nil {
		snap.Graph = graphStore.Export()
	}
	if memories != nil {
		records := memories.All()
		snap.Memories = make([]ExportedRecord, 0, len(records))
		for _, rec := range records {
			snap.Memories = append(snap.Memories, exportRecord(rec))
		}
	}
	if coordinator != nil {
		snap.Patterns = coordinator.Patterns()
	}
	return snap
}

// Restore 把快照恢复到给定的存储中。时间戳无法解析的记录被跳过,
// 全部跳过项汇总为一个错误返回，已恢复的部分保持有效。
func Restore(snap Snapshot, graphStore *graph.Store, memories *memory.Store, coordinator *enhance.Coordinator) error {
	var graphErr error
	if graphStore != nil {
		graphErr = graphStore.Import(snap.Graph)
	}

	skipped := 0
	if memories != nil {
		records := make([]memory.Record, 0, len(snap.Memories))
		for _, exported := range snap.Memories {
			rec, err := importRecord(exported)
			if err != nil {
				skipped++
				continue
			}
			records = append(records, rec)
		}
		memories.Import(records)
	}

	if coordinator != nil {
		coordinator.RestorePatterns(snap.Patterns)
	}

	if graphErr != nil {
		return fmt.Errorf("persist: graph restore: %w", graphErr)
	}
	if skipped > 0 {
		return fmt.Errorf("persist: skipped %d unparseable memory records", skipped)
	}
	return nil
}

func exportRecord(rec memory.Record) ExportedRecord {
	out := ExportedRecord{
		ID:             rec.ID,
		Content:        rec.Content,
		Type:           string(rec.Type),
		Importance:     rec.Importance,
		Tags:           rec.Tags,
		Context:        rec.Context,
		Metadata:       rec.Metadata,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		LastAccessedAt: rec.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		AccessCount:    rec.AccessCount,
		KnowledgeLinks: rec.KnowledgeLinks,
	}
	if !rec.ExpiresAt.IsZero() {
		out.ExpiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func importRecord(exported ExportedRecord) (memory.Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, exported.CreatedAt)
	if err != nil {
		return memory.Record{}, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, exported.UpdatedAt)
	if err != nil {
		return memory.Record{}, fmt.Errorf("updated_at: %w", err)
	}
	lastAccessed, err := time.Parse(time.RFC3339Nano, exported.LastAccessedAt)
	if err != nil {
		return memory.Record{}, fmt.Errorf("last_accessed_at: %w", err)
	}

	rec := memory.Record{
		ID:             exported.ID,
		Content:        exported.Content,
		Type:           memory.Type(exported.Type),
		Importance:     exported.Importance,
		Tags:           exported.Tags,
		Context:        exported.Context,
		Metadata:       exported.Metadata,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		LastAccessedAt: lastAccessed,
		AccessCount:    exported.AccessCount,
		KnowledgeLinks: exported.KnowledgeLinks,
	}
	if exported.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, exported.ExpiresAt)
		if err != nil {
			return memory.Record{}, fmt.Errorf("expires_at: %w", err)
		}
		rec.ExpiresAt = expiresAt
	}
	return rec, nil
}
