// Package persist 提供全量状态快照的采集、恢复与存储。
//
// 核心存储自身不做 I/O；快照通过 SnapshotStore 契约落盘,
// 内置进程内实现与 Redis 实现。AutoPersister 订阅总线上的
// 变更事件，在去抖间隔后自动保存。
package persist
