package event

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type 事件类型。各个存储组件在自己的包内定义具体常量。
type Type string

// TypeAny 通配订阅，接收所有事件。
const TypeAny Type = "*"

// Event 描述一次状态变更。每个变更操作都会发布一条事件，
// 外部系统（日志、指标、写时持久化）通过订阅来观察变更。
type Event struct {
	Type      Type           `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler 事件处理器。
type Handler func(Event)

// subscriptionCounter 用于生成唯一订阅 ID，避免并发碰撞。
var subscriptionCounter int64

// Bus 定义事件总线接口。
type Bus interface {
	Publish(event Event)
	Subscribe(eventType Type, handler Handler) string
	Unsubscribe(subscriptionID string)
}

// SyncBus 同步事件总线实现。
// 与异步通道式总线不同，Publish 在调用方的 goroutine 内按注册顺序
// 依次调用处理器，保证订阅者观察到每一次变更且顺序与发生顺序一致。
// 处理器内的 panic 会被捕获并记录，不会中断发布方。
type SyncBus struct {
	mu       sync.RWMutex
	handlers map[Type]map[string]Handler
	logger   *zap.Logger
}

// NewBus 创建同步事件总线。
func NewBus(logger *zap.Logger) *SyncBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncBus{
		handlers: make(map[Type]map[string]Handler),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
}

// Publish 发布事件。时间戳为空时自动补齐。
func (b *SyncBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[event.Type])+len(b.handlers[TypeAny]))
	for _, h := range b.handlers[event.Type] {
		targets = append(targets, h)
	}
	for _, h := range b.handlers[TypeAny] {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.dispatch(h, event)
	}
}

func (b *SyncBus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	h(event)
}

// Subscribe 订阅指定类型的事件，返回订阅 ID。
// 使用 TypeAny 订阅所有事件。
func (b *SyncBus) Subscribe(eventType Type, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe 取消订阅。
func (b *SyncBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}
