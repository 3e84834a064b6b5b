package persist

import (
	"context"
	"fmt"
	"sync"
)

// ErrNotFound 快照不存在。
var ErrNotFound = fmt.Errorf("persist: snapshot not found")

// SnapshotStore 快照存储契约。核心不做任何 I/O,
// 持久化完全委托给此接口的实现。
type SnapshotStore interface {
	// SaveSnapshot 保存快照并将其记为最新。
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LoadSnapshot 按 ID 加载快照，不存在时返回 ErrNotFound。
	LoadSnapshot(ctx context.Context, id string) (Snapshot, error)
	// LatestSnapshot 加载最近一次保存的快照。
	LatestSnapshot(ctx context.Context) (Snapshot, error)
	// DeleteSnapshot 删除快照，不存在时返回 ErrNotFound。
	DeleteSnapshot(ctx context.Context, id string) error
}

// InMemorySnapshotStore 进程内快照存储，默认接线与测试用。
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	latestID  string
}

// NewInMemorySnapshotStore 创建进程内快照存储。
func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: make(map[string]Snapshot)}
}

func (s *InMemorySnapshotStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("persist: snapshot id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snap
	s.latestID = snap.ID
	return nil
}

func (s *InMemorySnapshotStore) LoadSnapshot(_ context.Context, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *InMemorySnapshotStore) LatestSnapshot(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latestID == "" {
		return Snapshot{}, ErrNotFound
	}
	return s.snapshots[s.latestID], nil
}

func (s *InMemorySnapshotStore) DeleteSnapshot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, id)
	if s.latestID == id {
		s.latestID = ""
	}
	return nil
}
