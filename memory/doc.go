// Package memory 实现带多字段索引的记忆记录存储。
//
// 记录按类型、小写标签、会话、用户与领域建立二级索引；写满时
// 按创建时间淘汰最旧的一条记录；带 ExpiresAt 的记录由后台清扫
// 循环定期移除。相似度计算（FindSimilar）为纯词法/结构化打分，
// 不涉及向量嵌入。
//
// 错误语义：公共操作统一返回布尔或集合，内部失败被记录日志并
// 作为 error 事件发布，批量写入不会因单条坏记录而中断。
package memory
