package enhance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnhanceAgentAsync 把增强任务入队，立即返回任务 ID。
// 任务由后台排空循环处理；Start 未调用时任务保持 pending。
func (c *Coordinator) EnhanceAgentAsync(agentID string, ec Context) string {
	now := c.config.Now()
	task := &Task{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Context:   ec,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	c.tasks[task.ID] = task
	c.queue = append(c.queue, task.ID)
	c.mu.Unlock()

	c.emit(EventTaskQueued, map[string]any{"task_id": task.ID, "agent_id": agentID})
	return task.ID
}

// Cancel 取消任务。仅 pending 状态可取消，cancelled 为终态。
func (c *Coordinator) Cancel(taskID string) bool {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || task.Status != StatusPending {
		c.mu.Unlock()
		return false
	}
	task.Status = StatusCancelled
	task.UpdatedAt = c.config.Now()
	c.mu.Unlock()

	c.emit(EventTaskCancelled, map[string]any{"task_id": taskID})
	return true
}

// Status 返回任务状态，未知 ID 返回 not_found。
func (c *Coordinator) Status(taskID string) TaskStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return StatusNotFound
	}
	return task.Status
}

// GetTask 返回任务副本。
func (c *Coordinator) GetTask(taskID string) (Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	copied := *task
	if task.Result != nil {
		result := *task.Result
		copied.Result = &result
	}
	return copied, true
}

// Start 启动后台排空循环，每个周期处理当时的全部 pending 任务。
// 重复调用无效果。
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.config.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Drain(ctx)
			}
		}
	}()
}

// Stop 停止排空循环并等待其退出。未启动时是空操作。
func (c *Coordinator) Stop() {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return
	}
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done
	})
}

// Drain 处理当前全部 pending 任务，受速率限制。
// 排空循环每周期调用一次；测试可直接调用以避免等待计时器。
func (c *Coordinator) Drain(ctx context.Context) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, taskID := range pending {
		if err := c.limiter.Wait(ctx); err != nil {
			// 上下文取消，剩余任务退回队列等待下一轮。
			c.requeue(pending, taskID)
			return
		}
		c.processTask(ctx, taskID)
	}
}

func (c *Coordinator) requeue(pending []string, from string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range pending {
		if id == from {
			c.queue = append(pending[i:], c.queue...)
			return
		}
	}
}

func (c *Coordinator) processTask(ctx context.Context, taskID string) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || task.Status != StatusPending {
		// 已取消或已被处理，跳过。
		c.mu.Unlock()
		return
	}
	task.Status = StatusProcessing
	task.UpdatedAt = c.config.Now()
	agentID := task.AgentID
	taskCtx := task.Context
	c.mu.Unlock()

	result := c.EnhanceAgent(ctx, agentID, taskCtx)

	c.mu.Lock()
	task.Result = &result
	if result.Success {
		task.Status = StatusCompleted
	} else {
		task.Status = StatusFailed
	}
	task.UpdatedAt = c.config.Now()
	status := task.Status
	c.mu.Unlock()

	c.logger.Debug("enhancement task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
		zap.Float64("improvement", result.Improvement))
}
