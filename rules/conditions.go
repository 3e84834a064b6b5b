package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// evaluateCondition 对单个条件求值。条件不成立返回 false；
// 条件本身非法（未知运算符、坏正则、非数值比较数值）返回错误,
// 由调用方将整条规则记为失败。
func evaluateCondition(cond Condition, ev Event, execCtx map[string]any) (bool, error) {
	value, ok := resolveField(cond.Field, ev, execCtx)

	switch cond.Operator {
	case OpExists:
		return ok, nil
	case OpNotExists:
		return !ok, nil
	}

	// 其余运算符都需要字段存在。
	if !ok {
		return false, nil
	}

	switch cond.Operator {
	case OpEquals:
		return looseEqual(value, cond.Value), nil
	case OpNotEquals:
		return !looseEqual(value, cond.Value), nil
	case OpContains:
		return strings.Contains(stringify(value), stringify(cond.Value)), nil
	case OpNotContains:
		return !strings.Contains(stringify(value), stringify(cond.Value)), nil
	case OpStartsWith:
		return strings.HasPrefix(stringify(value), stringify(cond.Value)), nil
	case OpEndsWith:
		return strings.HasSuffix(stringify(value), stringify(cond.Value)), nil
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		return compareNumeric(cond.Operator, value, cond.Value)
	case OpIn:
		return inList(value, cond.Value), nil
	case OpNotIn:
		return !inList(value, cond.Value), nil
	case OpRegex:
		re, err := regexp.Compile(stringify(cond.Value))
		if err != nil {
			return false, fmt.Errorf("rules: invalid regex in condition on %q: %w", cond.Field, err)
		}
		return re.MatchString(stringify(value)), nil
	default:
		return false, fmt.Errorf("rules: unknown operator %q", cond.Operator)
	}
}

// looseEqual 先尝试数值相等，再退回字符串表示相等，
// 避免 JSON 反序列化后 int/float64 的类型差异造成误判。
func looseEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

func compareNumeric(op Operator, a, b any) (bool, error) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return false, fmt.Errorf("rules: operator %q requires numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case OpGreater:
		return fa > fb, nil
	case OpGreaterEq:
		return fa >= fb, nil
	case OpLess:
		return fa < fb, nil
	default:
		return fa <= fb, nil
	}
}

func inList(value, list any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if looseEqual(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if looseEqual(value, item) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
