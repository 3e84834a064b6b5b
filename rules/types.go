package rules

import (
	"time"

	"github.com/BaSui01/memflow/event"
)

// 规则引擎发布的事件类型。
const (
	EventRuleAdded     event.Type = "rule_added"
	EventRuleRemoved   event.Type = "rule_removed"
	EventRuleExecuted  event.Type = "rule_executed"
	EventMemoryCreated event.Type = "MEMORY_CREATED"
)

// historyLimit 执行历史的保留上限。
const historyLimit = 1000

// Operator 条件比较运算符。
type Operator string

const (
	OpEquals      Operator = "eq"
	OpNotEquals   Operator = "neq"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreater     Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLess        Operator = "lt"
	OpLessEq      Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpRegex       Operator = "regex"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

// ActionType 动作类型。动词固定，参数自由。
type ActionType string

const (
	ActionLog              ActionType = "log"
	ActionEmitEvent        ActionType = "emit_event"
	ActionUpdateContext    ActionType = "update_context"
	ActionCallFunction     ActionType = "call_function"
	ActionSetVariable      ActionType = "set_variable"
	ActionIncrementCounter ActionType = "increment_counter"
)

// MetaExecuteOnce 元数据键：值为 true 的规则触发一次后自动停用。
const MetaExecuteOnce = "execute_once"

// Event 提交给规则引擎处理的事件。
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Condition 一个条件：点分路径字段与给定值按运算符比较。
// 路径以 event.* 或 context.* 为前缀，无前缀时落在事件数据上。
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Action 一个动作。参数含义由动作类型决定，字符串参数支持
// {path} 形式的插值。
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule 事件/条件/动作三元组。条件之间为 AND 语义；
// 动作按序执行，遇到第一个失败即停止。
type Rule struct {
	ID         string         `json:"id"`
	Category   string         `json:"category,omitempty"`
	Priority   int            `json:"priority"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Actions    []Action       `json:"actions,omitempty"`
	Active     bool           `json:"active"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// executeOnce 报告规则是否带"只执行一次"标记。
func (r *Rule) executeOnce() bool {
	v, ok := r.Metadata[MetaExecuteOnce]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ActionResult 单个动作的执行结果。
type ActionResult struct {
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// ExecutionResult 单条规则对一次事件的执行结果。
// 规则出错时以失败结果返回，而不是抛出异常。
type ExecutionResult struct {
	RuleID    string         `json:"rule_id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Actions   []ActionResult `json:"actions,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecutionRecord 执行历史条目：规则、事件、上下文快照与结果。
type ExecutionRecord struct {
	RuleID    string          `json:"rule_id"`
	Event     Event           `json:"event"`
	Context   map[string]any  `json:"context,omitempty"`
	Result    ExecutionResult `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// Func 注册进能力表的宿主函数。call_function 动作只能调用
// 预先注册的函数，不做任何反射式查找。
type Func func(event Event, execCtx map[string]any, params map[string]any) error
