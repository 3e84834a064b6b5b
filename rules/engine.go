package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

// Engine 规则引擎：注册规则，处理事件，维护执行历史。
//
// 规则按优先级降序执行，同优先级按注册顺序保持稳定。
// 所有求值错误都被捕获为失败结果，单条坏规则不会影响其它规则。
type Engine struct {
	mu      sync.RWMutex
	rules   map[string]*Rule
	order   []string // 注册顺序，用于稳定排序
	history []ExecutionRecord
	funcs   map[string]Func

	bus    event.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine 创建规则引擎。bus 可为 nil（不发布事件）。
func NewEngine(bus event.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:  make(map[string]*Rule),
		funcs:  make(map[string]Func),
		bus:    bus,
		logger: logger.With(zap.String("component", "rule_engine")),
		now:    time.Now,
	}
}

// AddRule 注册规则。ID 为空或已存在时返回 false。
func (e *Engine) AddRule(rule Rule) bool {
	if rule.ID == "" {
		e.logger.Warn("rejecting rule with empty id")
		return false
	}
	e.mu.Lock()
	if _, exists := e.rules[rule.ID]; exists {
		e.mu.Unlock()
		e.logger.Warn("rejecting duplicate rule", zap.String("rule_id", rule.ID))
		return false
	}
	r := rule
	e.rules[r.ID] = &r
	e.order = append(e.order, r.ID)
	e.mu.Unlock()

	e.publish(EventRuleAdded, map[string]any{"rule_id": r.ID, "category": r.Category})
	return true
}

// RemoveRule 删除规则，返回是否存在。
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	if _, exists := e.rules[id]; !exists {
		e.mu.Unlock()
		return false
	}
	delete(e.rules, id)
	for i, rid := range e.order {
		if rid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.publish(EventRuleRemoved, map[string]any{"rule_id": id})
	return true
}

// SetActive 启用或停用规则，返回规则是否存在。
func (e *Engine) SetActive(id string, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return false
	}
	r.Active = active
	return true
}

// GetRule 返回规则副本。
func (e *Engine) GetRule(id string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// Rules 返回全部规则副本，按注册顺序。
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.rules[id])
	}
	return out
}

// RegisterFunction 把宿主函数登记进能力表，供 call_function 动作调用。
func (e *Engine) RegisterFunction(name string, fn Func) {
	if name == "" || fn == nil {
		return
	}
	e.mu.Lock()
	e.funcs[name] = fn
	e.mu.Unlock()
}

// ProcessEvent 用全部活动规则处理一次事件。
//
// 返回每条被触发规则的执行结果：条件全部成立的规则执行其动作，
// 动作序列遇到第一个失败即中止并将该规则记为失败；条件不成立的
// 规则被跳过，不出现在结果中。execCtx 可被动作原地修改。
func (e *Engine) ProcessEvent(ev Event, execCtx map[string]any) []ExecutionResult {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if execCtx == nil {
		execCtx = make(map[string]any)
	}

	candidates := e.activeRulesByPriority()
	results := make([]ExecutionResult, 0, len(candidates))

	for _, rule := range candidates {
		matched, condErr := e.matches(rule, ev, execCtx)
		if condErr != nil {
			res := ExecutionResult{
				RuleID:    rule.ID,
				Success:   false,
				Error:     condErr.Error(),
				Timestamp: e.now(),
			}
			results = append(results, res)
			e.record(rule.ID, ev, execCtx, res)
			continue
		}
		if !matched {
			continue
		}

		res := e.executeRule(rule, ev, execCtx)
		results = append(results, res)
		e.record(rule.ID, ev, execCtx, res)

		if rule.executeOnce() {
			e.SetActive(rule.ID, false)
			e.logger.Debug("deactivated execute-once rule", zap.String("rule_id", rule.ID))
		}
	}

	return results
}

// activeRulesByPriority 返回活动规则的快照，优先级降序，
// 同优先级保持注册顺序。
func (e *Engine) activeRulesByPriority() []Rule {
	e.mu.RLock()
	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		if r := e.rules[id]; r.Active {
			out = append(out, *r)
		}
	}
	e.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func (e *Engine) matches(rule Rule, ev Event, execCtx map[string]any) (bool, error) {
	for _, cond := range rule.Conditions {
		ok, err := evaluateCondition(cond, ev, execCtx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) executeRule(rule Rule, ev Event, execCtx map[string]any) ExecutionResult {
	res := ExecutionResult{
		RuleID:    rule.ID,
		Success:   true,
		Actions:   make([]ActionResult, 0, len(rule.Actions)),
		Timestamp: e.now(),
	}

	for _, action := range rule.Actions {
		err := e.executeAction(action, ev, execCtx)
		ar := ActionResult{Type: action.Type, Success: err == nil}
		if err != nil {
			ar.Error = err.Error()
			res.Actions = append(res.Actions, ar)
			res.Success = false
			res.Error = fmt.Sprintf("action %q failed: %v", action.Type, err)
			e.logger.Warn("rule action failed",
				zap.String("rule_id", rule.ID),
				zap.String("action", string(action.Type)),
				zap.Error(err))
			break
		}
		res.Actions = append(res.Actions, ar)
	}

	e.publish(EventRuleExecuted, map[string]any{
		"rule_id": rule.ID,
		"success": res.Success,
	})
	return res
}

// record 追加执行历史，超过上限时丢弃最旧条目。
func (e *Engine) record(ruleID string, ev Event, execCtx map[string]any, res ExecutionResult) {
	snapshot := make(map[string]any, len(execCtx))
	for k, v := range execCtx {
		snapshot[k] = v
	}
	rec := ExecutionRecord{
		RuleID:    ruleID,
		Event:     ev,
		Context:   snapshot,
		Result:    res,
		Timestamp: e.now(),
	}

	e.mu.Lock()
	e.history = append(e.history, rec)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
	e.mu.Unlock()
}

// History 返回执行历史副本，从旧到新。
func (e *Engine) History() []ExecutionRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) publish(t event.Type, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.Event{
		Type:      t,
		Source:    "rule_engine",
		Data:      data,
		Timestamp: e.now(),
	})
}
