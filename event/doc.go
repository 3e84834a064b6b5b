// Package event 提供 memflow 的事件总线。
//
// 核心组件的每一次变更操作都会通过总线发布一条命名事件，
// 周边系统（日志、指标、写时持久化）以订阅的方式观察变更，
// 而不是轮询存储状态。总线是显式注册的观察者接口：
// 宿主在启动阶段构造总线并注入各个组件，没有进程级全局实例。
package event
