package service

import (
	"fmt"
	"sync"
	"time"

	"github-scout/internal/common"
)

// RunGuard 运行准入与取消信号的唯一所有者
// 两条独立限制：全局同时只允许一个运行；每个来源每滚动窗口最多 N 次启动
// 显式注入、进程启动时重置，不依赖任何包级可变状态
type RunGuard struct {
	limit   int
	window  time.Duration
	nowFunc func() time.Time

	mu        sync.Mutex
	activeRun string
	cancelled map[string]bool
	starts    map[string][]time.Time
}

// NewRunGuard 创建守卫，limit 次 / window 滚动窗口
func NewRunGuard(limit int, window time.Duration) *RunGuard {
	return &RunGuard{
		limit:     limit,
		window:    window,
		nowFunc:   time.Now,
		cancelled: make(map[string]bool),
		starts:    make(map[string][]time.Time),
	}
}

// Acquire 尝试为 runID 占用全局运行槽并登记来源的启动时间
// 拒绝时返回 RunRejectedError，RetryAfter 由窗口内最老的一次启动推算
func (g *RunGuard) Acquire(origin, runID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.activeRun != "" {
		return &common.RunRejectedError{
			Reason: "已有一个搜索正在运行，请等它结束后再试",
		}
	}

	now := g.nowFunc()
	recent := g.starts[origin][:0]
	for _, t := range g.starts[origin] {
		if now.Sub(t) < g.window {
			recent = append(recent, t)
		}
	}
	g.starts[origin] = recent

	if len(recent) >= g.limit {
		return &common.RunRejectedError{
			Reason:     fmt.Sprintf("超出频率限制：每个来源每小时最多 %d 次搜索", g.limit),
			RetryAfter: recent[0].Add(g.window).Sub(now),
		}
	}

	g.starts[origin] = append(recent, now)
	g.activeRun = runID
	g.cancelled[runID] = false
	return nil
}

// Release 归还运行槽；只对当前活跃的 runID 生效
func (g *RunGuard) Release(runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeRun == runID {
		g.activeRun = ""
	}
	delete(g.cancelled, runID)
}

// Cancel 置位取消标记，返回 runID 是否还在运行中
// 编排器会在安全点 (派发下一个批次之前) 观察这个标记，已派发的批次任其自然结束
func (g *RunGuard) Cancel(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.cancelled[runID]; !ok {
		return false
	}
	g.cancelled[runID] = true
	return true
}

// Cancelled 查询取消标记
func (g *RunGuard) Cancelled(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[runID]
}

// Active 返回当前活跃的 runID (没有时为空串)
func (g *RunGuard) Active() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeRun
}
