package service

import (
	"sync"

	"github-scout/internal/domain"
)

// 事件类型判别符，每个事件都必须携带 type
const (
	EventStatus   = "status"
	EventPhase    = "phase"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// 阶段名，严格按时间序推进：discovering → filtering → analyzing
const (
	PhaseDiscovering = "discovering"
	PhaseFiltering   = "filtering"
	PhaseAnalyzing   = "analyzing"
)

// Event 进度流里的单个事件
type Event struct {
	Type     string              `json:"type"`
	Message  string              `json:"message,omitempty"`
	Phase    string              `json:"phase,omitempty"`
	Analyzed int                 `json:"analyzed,omitempty"`
	Total    int                 `json:"total,omitempty"`
	Data     *domain.ScoutResult `json:"data,omitempty"`
}

const streamBuffer = 256

// Stream 单订阅者的有界事件队列
// 编排器写，传输层读；缓冲满时新事件直接丢弃 (不重放，迟到的订阅者轮询持久化结果)
type Stream struct {
	ch chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewStream 创建进度流
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, streamBuffer)}
}

// Publish 非阻塞写入；流已关闭或缓冲已满时事件被丢弃
func (s *Stream) Publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped++
	}
}

// Close 幂等关闭，订阅方的 range 循环随之退出
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Events 订阅事件通道
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Dropped 因缓冲满而丢弃的事件数
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
