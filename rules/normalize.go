package rules

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/memory"
)

// summaryLimit 摘要截断长度（按 rune 计）。
const summaryLimit = 200

// promotionThreshold 达到该重要度的输入一律归为长期记忆，
// 无视原始类型标签。
const promotionThreshold = 0.8

// rawTypeTable 外部原始类型到记忆类型的固定映射表。
var rawTypeTable = map[string]memory.Type{
	"conversation":  memory.TypeEpisodic,
	"code":          memory.TypeProcedural,
	"error":         memory.TypeProcedural,
	"documentation": memory.TypeSemantic,
	"fact":          memory.TypeSemantic,
	"preference":    memory.TypeLongTerm,
	"insight":       memory.TypeLongTerm,
	"task":          memory.TypeWorking,
	"context":       memory.TypeWorking,
}

// ProcessMemory 把任意富化输入归一化为记忆记录。
//
// 归一化是防御性的：缺失 ID 时自动生成，重要度收敛到 [0,1]，
// 未知原始类型落到短期记忆。归一化完成后以 MEMORY_CREATED 事件
// 尽力分发给规则引擎，分发中的任何错误都被吞掉，不影响返回值。
func (e *Engine) ProcessMemory(raw map[string]any, execCtx map[string]any) (memory.Record, error) {
	if raw == nil {
		return memory.Record{}, fmt.Errorf("rules: nil memory input")
	}

	now := e.now()
	rec := memory.Record{
		ID:        stringOr(raw["id"], uuid.NewString()),
		Content:   stringify(raw["content"]),
		CreatedAt: now,
		UpdatedAt: now,
	}

	importance, _ := toFloat(raw["importance"])
	rec.Importance = clamp01(importance)

	rawType := stringify(raw["type"])
	if rec.Importance >= promotionThreshold {
		rec.Type = memory.TypeLongTerm
	} else if mapped, ok := rawTypeTable[rawType]; ok {
		rec.Type = mapped
	} else {
		rec.Type = memory.TypeShortTerm
	}

	rec.Tags = toStrings(raw["tags"])
	rec.KnowledgeLinks = toStrings(raw["knowledgeLinks"])
	rec.Context = mergeContext(raw["context"], raw["enrichedContext"])

	if meta, ok := raw["metadata"].(map[string]any); ok {
		rec.Metadata = make(map[string]any, len(meta)+1)
		for k, v := range meta {
			rec.Metadata[k] = v
		}
	}
	if summary := summaryOf(raw, rec.Content); summary != "" {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, 1)
		}
		rec.Metadata["summary"] = summary
	}
	if rawType != "" {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, 1)
		}
		rec.Metadata["raw_type"] = rawType
	}

	if ttl, ok := toFloat(raw["ttlSeconds"]); ok && ttl > 0 {
		rec.ExpiresAt = now.Add(time.Duration(ttl * float64(time.Second)))
	}

	e.dispatchMemoryCreated(rec, execCtx)
	return rec, nil
}

// dispatchMemoryCreated 以尽力而为的方式把新记忆作为事件
// 送回规则引擎，失败只记日志。
func (e *Engine) dispatchMemoryCreated(rec memory.Record, execCtx map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("memory-created dispatch panicked", zap.Any("panic", r))
		}
	}()

	ev := Event{
		Type: string(EventMemoryCreated),
		Data: map[string]any{
			"id":         rec.ID,
			"type":       string(rec.Type),
			"importance": rec.Importance,
			"tags":       rec.Tags,
		},
		Timestamp: e.now(),
	}
	for _, res := range e.ProcessEvent(ev, execCtx) {
		if !res.Success {
			e.logger.Debug("memory-created rule failed",
				zap.String("rule_id", res.RuleID),
				zap.String("error", res.Error))
		}
	}
}

// summaryOf 返回截断到 summaryLimit 的摘要。优先用显式摘要字段,
// 否则截取正文开头。
func summaryOf(raw map[string]any, content string) string {
	s := stringify(raw["summary"])
	if s == "" {
		s = content
	}
	runes := []rune(s)
	if len(runes) > summaryLimit {
		return string(runes[:summaryLimit])
	}
	return s
}

// mergeContext 合并基础上下文与富化上下文，富化值优先。
func mergeContext(base, enriched any) memory.Context {
	merged := make(map[string]any)
	if m, ok := base.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	if m, ok := enriched.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	return memory.Context{
		UserID:    stringify(firstOf(merged, "userId", "user_id")),
		SessionID: stringify(firstOf(merged, "sessionId", "session_id")),
		Domain:    stringify(firstOf(merged, "domain")),
		Task:      stringify(firstOf(merged, "task")),
	}
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func stringOr(v any, fallback string) string {
	if s := stringify(v); s != "" {
		return s
	}
	return fallback
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
