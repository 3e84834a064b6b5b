// Package main 提供 memflow 命令行入口。
//
// 子命令:
//   - serve: 启动引擎，暴露 /health 与 /metrics 端点
//   - version: 显示版本信息
//   - health: 对运行中的实例做健康检查
package main
