/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
图谱、记忆、事件、检索、规则与增强六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按业务域分组管理。

# 主要能力

  - 图谱指标：节点与边数量 Gauge。
  - 记忆指标：记录数量 Gauge。
  - 事件指标：按类型分组的总线事件计数。
  - 检索指标：缓存命中/未命中计数、检索耗时 Histogram。
  - 规则指标：按结果分组的规则执行计数。
  - 增强指标：按状态分组的任务流转计数。

Collector 可通过 Observe 订阅事件总线，把事件流自动转换为指标，
也可由宿主显式调用记录方法。
*/
package metrics
