package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

// mutationEvents 触发写时持久化的事件类型。
// 只读事件（缓存命中、检索完成、错误）不会弄脏状态。
var mutationEvents = map[event.Type]struct{}{
	"node_added":             {},
	"node_updated":           {},
	"node_removed":           {},
	"edge_added":             {},
	"edge_updated":           {},
	"edge_removed":           {},
	"graph_cleared":          {},
	"graph_imported":         {},
	"memory_stored":          {},
	"memory_updated":         {},
	"memory_removed":         {},
	"memory_expired":         {},
	"memory_evicted":         {},
	"conversation_finalized": {},
	"pattern_learned":        {},
}

// CaptureFunc 产生一个待保存的快照。
type CaptureFunc func() Snapshot

// AutoPersister 写时持久化：订阅总线上的变更事件,
// 在去抖间隔后保存一次快照。连续的变更风暴只产生一次保存。
type AutoPersister struct {
	store    SnapshotStore
	capture  CaptureFunc
	debounce time.Duration
	bus      event.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	dirty   bool
	running bool
	subID   string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewAutoPersister 创建写时持久化器。
func NewAutoPersister(store SnapshotStore, capture CaptureFunc, debounce time.Duration, bus event.Bus, logger *zap.Logger) *AutoPersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &AutoPersister{
		store:    store,
		capture:  capture,
		debounce: debounce,
		bus:      bus,
		logger:   logger.With(zap.String("component", "auto_persister")),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 订阅变更事件并启动保存循环。重复调用无效果。
func (p *AutoPersister) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.subID = p.bus.Subscribe(event.TypeAny, func(ev event.Event) {
		if _, ok := mutationEvents[ev.Type]; !ok {
			return
		}
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
	})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.debounce)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.flush(ctx)
			}
		}
	}()
}

// Stop 取消订阅、停止循环，并做最后一次保存。未启动时是空操作。
func (p *AutoPersister) Stop() {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	p.stopOnce.Do(func() {
		p.bus.Unsubscribe(p.subID)
		close(p.stopCh)
		<-p.done
		p.flush(context.Background())
	})
}

// flush 状态弄脏时保存一次快照，保存失败保留脏标记下轮重试。
func (p *AutoPersister) flush(ctx context.Context) {
	p.mu.Lock()
	wasDirty := p.dirty
	p.dirty = false
	p.mu.Unlock()

	if !wasDirty {
		return
	}

	snap := p.capture()
	if err := p.store.SaveSnapshot(ctx, snap); err != nil {
		p.logger.Error("auto-persist save failed", zap.Error(err))
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		return
	}
	p.logger.Debug("auto-persist snapshot saved",
		zap.String("id", snap.ID),
		zap.Int("memories", len(snap.Memories)))
}
