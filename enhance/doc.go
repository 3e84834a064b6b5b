// Package enhance 实现增强协调器：把检索到的记忆应用到智能体
// 配置上，度量改进，并学习哪些记忆类型/标签组合带来正向效果。
//
// 同步入口为 EnhanceAgent；EnhanceAgentAsync 入队后由固定周期的
// 后台排空循环处理，任务状态机为
// pending → processing → {completed|failed|cancelled}。
package enhance
