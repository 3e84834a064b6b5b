// Package graph 实现带索引的内存知识图谱存储。
//
// 存储持有类型化的节点与有向边，维护类型索引以及正向/反向邻接集合。
// 引用完整性由插入时校验与删除时级联保证：边的两个端点必须存在，
// 删除节点会先删除其全部关联边。
//
// 除基本的增删改查外，包内还提供子串/属性/时间范围检索、
// 广度优先路径查找、诱导子图与整图分析，以及面向外部持久化
// 协作方的全量导出/导入（ISO-8601 时间戳）。
//
// 所有变更操作都会向注入的事件总线发布对应事件。
package graph
