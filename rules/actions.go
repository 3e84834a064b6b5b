package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

// executeAction 执行单个动作。字符串参数在执行前完成插值。
func (e *Engine) executeAction(action Action, ev Event, execCtx map[string]any) error {
	switch action.Type {
	case ActionLog:
		return e.actionLog(action, ev, execCtx)
	case ActionEmitEvent:
		return e.actionEmitEvent(action, ev, execCtx)
	case ActionUpdateContext:
		return e.actionUpdateContext(action, ev, execCtx)
	case ActionCallFunction:
		return e.actionCallFunction(action, ev, execCtx)
	case ActionSetVariable:
		return e.actionSetVariable(action, ev, execCtx)
	case ActionIncrementCounter:
		return e.actionIncrementCounter(action, execCtx)
	default:
		return fmt.Errorf("rules: unknown action type %q", action.Type)
	}
}

func (e *Engine) actionLog(action Action, ev Event, execCtx map[string]any) error {
	message, _ := action.Params["message"].(string)
	if message == "" {
		return fmt.Errorf("rules: log action requires a message param")
	}
	message = interpolate(message, ev, execCtx)

	switch stringify(action.Params["level"]) {
	case "debug":
		e.logger.Debug(message, zap.String("event_type", ev.Type))
	case "warn":
		e.logger.Warn(message, zap.String("event_type", ev.Type))
	case "error":
		e.logger.Error(message, zap.String("event_type", ev.Type))
	default:
		e.logger.Info(message, zap.String("event_type", ev.Type))
	}
	return nil
}

// actionEmitEvent 合成并发布一个新事件。数据参数在发布前插值,
// 衍生事件会走总线上的所有订阅者，包括规则引擎自身的桥接器。
func (e *Engine) actionEmitEvent(action Action, ev Event, execCtx map[string]any) error {
	eventType, _ := action.Params["event_type"].(string)
	if eventType == "" {
		return fmt.Errorf("rules: emit_event action requires an event_type param")
	}
	if e.bus == nil {
		return fmt.Errorf("rules: emit_event action requires an event bus")
	}

	var data map[string]any
	if raw, ok := action.Params["data"].(map[string]any); ok {
		data = interpolateValue(raw, ev, execCtx).(map[string]any)
	}
	e.bus.Publish(event.Event{
		Type:      event.Type(interpolate(eventType, ev, execCtx)),
		Source:    "rule_engine",
		Data:      data,
		Timestamp: e.now(),
	})
	return nil
}

func (e *Engine) actionUpdateContext(action Action, ev Event, execCtx map[string]any) error {
	updates, ok := action.Params["updates"].(map[string]any)
	if !ok {
		return fmt.Errorf("rules: update_context action requires an updates map param")
	}
	for k, v := range updates {
		execCtx[k] = interpolateValue(v, ev, execCtx)
	}
	return nil
}

func (e *Engine) actionCallFunction(action Action, ev Event, execCtx map[string]any) error {
	name, _ := action.Params["name"].(string)
	if name == "" {
		return fmt.Errorf("rules: call_function action requires a name param")
	}
	e.mu.RLock()
	fn, ok := e.funcs[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("rules: function %q is not registered", name)
	}
	if err := fn(ev, execCtx, action.Params); err != nil {
		return fmt.Errorf("rules: function %q failed: %w", name, err)
	}
	return nil
}

func (e *Engine) actionSetVariable(action Action, ev Event, execCtx map[string]any) error {
	name, _ := action.Params["name"].(string)
	if name == "" {
		return fmt.Errorf("rules: set_variable action requires a name param")
	}
	execCtx[name] = interpolateValue(action.Params["value"], ev, execCtx)
	return nil
}

func (e *Engine) actionIncrementCounter(action Action, execCtx map[string]any) error {
	name, _ := action.Params["name"].(string)
	if name == "" {
		return fmt.Errorf("rules: increment_counter action requires a name param")
	}
	step := 1.0
	if raw, ok := action.Params["by"]; ok {
		f, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("rules: increment_counter step must be numeric, got %T", raw)
		}
		step = f
	}
	current, _ := toFloat(execCtx[name])
	execCtx[name] = current + step
	return nil
}
