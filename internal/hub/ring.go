package hub

import "tempmail/inboxcast/internal/domain"

// Ring 是单个收件箱的固定容量环形事件日志，用于断线重连时的回放。
//
// 写满后最旧的事件被静默覆盖。Ring 不是并发安全的，调用方需持有所属收件箱的分片锁。
type Ring struct {
	entries []domain.BroadcastEvent
	head    int // 下一次写入的位置
	count   int
}

// NewRing 创建容量为 capacity 的环形缓冲区
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{entries: make([]domain.BroadcastEvent, capacity)}
}

// Add 在写游标处保存事件并前移游标
func (r *Ring) Add(event domain.BroadcastEvent) {
	r.entries[r.head] = event
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// GetSince 按从旧到新的顺序返回序号严格大于 seq 的事件。
// seq 早于最旧的保留事件时只返回仍在缓冲区中的部分。
func (r *Ring) GetSince(seq uint64) []domain.BroadcastEvent {
	out := make([]domain.BroadcastEvent, 0, r.count)
	r.walk(func(event domain.BroadcastEvent) {
		if event.SequenceID > seq {
			out = append(out, event)
		}
	})
	return out
}

// GetAll 按从旧到新的顺序返回全部保留事件
func (r *Ring) GetAll() []domain.BroadcastEvent {
	out := make([]domain.BroadcastEvent, 0, r.count)
	r.walk(func(event domain.BroadcastEvent) {
		out = append(out, event)
	})
	return out
}

// Len 返回当前保留的事件数量
func (r *Ring) Len() int {
	return r.count
}

// Cap 返回缓冲区容量
func (r *Ring) Cap() int {
	return len(r.entries)
}

// Oldest 返回最旧保留事件的序号
func (r *Ring) Oldest() (uint64, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.entries[r.start()].SequenceID, true
}

func (r *Ring) start() int {
	return (r.head - r.count + len(r.entries)) % len(r.entries)
}

func (r *Ring) walk(fn func(domain.BroadcastEvent)) {
	start := r.start()
	for i := 0; i < r.count; i++ {
		fn(r.entries[(start+i)%len(r.entries)])
	}
}
