package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.\-]+)\}`)

// resolveField 按点分路径解析字段值。
// "event.type" 与 "event.timestamp" 指向事件头；"event.x.y" 与
// "context.x.y" 分别在事件数据和执行上下文中逐段下钻；无前缀
// 路径等价于 event.* 前缀。任一段缺失时返回 ok=false。
func resolveField(path string, ev Event, execCtx map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	var root map[string]any
	switch segments[0] {
	case "event":
		segments = segments[1:]
		if len(segments) == 0 {
			return nil, false
		}
		if len(segments) == 1 {
			switch segments[0] {
			case "type":
				return ev.Type, true
			case "timestamp":
				return ev.Timestamp, true
			}
		}
		root = ev.Data
	case "context":
		segments = segments[1:]
		if len(segments) == 0 {
			return nil, false
		}
		root = execCtx
	default:
		root = ev.Data
	}

	var current any = root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// interpolate 把字符串中的 {path} 占位符替换为解析到的值。
// 解析失败的占位符原样保留，便于排查规则配置错误。
func interpolate(s string, ev Event, execCtx map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[1 : len(match)-1]
		v, ok := resolveField(path, ev, execCtx)
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}

// interpolateValue 对字符串插值，对映射和切片递归处理，其余类型原样返回。
func interpolateValue(v any, ev Event, execCtx map[string]any) any {
	switch t := v.(type) {
	case string:
		return interpolate(t, ev, execCtx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = interpolateValue(inner, ev, execCtx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = interpolateValue(inner, ev, execCtx)
		}
		return out
	default:
		return v
	}
}
