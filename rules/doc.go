// Package rules 提供事件驱动的规则引擎：条件/动作规则按优先级
// 处理事件，并把任意富化输入归一化为记忆记录。
//
// 引擎是存储与检索之外的"反应层"：记忆写入、图谱变化等事件经
// 总线进入引擎，由规则决定记日志、改上下文还是派生新事件。
package rules
