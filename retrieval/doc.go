// Package retrieval 实现加权多策略的记忆检索引擎。
//
// 一次检索分五步：对记忆存储应用硬过滤得到候选集；并行运行
// 各个已启用的命名策略，每个策略独立产出有序子集；按
// positionScore * weight 合并各策略排名；按需展开结果引用的
// 知识图谱节点；最后计算整体置信度。
//
// 策略在运行时可以替换、调权或停用。单个策略失败只会让它
// 贡献空排名，不会中断整次检索。相同查询在 TTL 窗口内命中
// 结果缓存，并发的相同查询被合并为一次执行。
package retrieval
