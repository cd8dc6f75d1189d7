package hub

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxcast/internal/domain"
)

const shardCount = 64

// ErrHubClosed 表示 Hub 已关闭，不再接受新订阅
var ErrHubClosed = errors.New("hub closed")

// Options 定义广播与回放参数
type Options struct {
	RingCapacity      int
	SummaryFields     []string
	QueueSize         int
	MaxRecipients     int
	YieldBatch        int
	Backpressure      bool
	DropFailedClients bool
}

// Recorder 接收 Hub 的运行指标
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed(reason error)
	Dispatched(d *Dispatch)
	Replayed(n int)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()      {}
func (nopRecorder) ConnectionClosed(error) {}
func (nopRecorder) Dispatched(*Dispatch)   {}
func (nopRecorder) Replayed(int)           {}

// Dispatch 记录一次广播的结果
type Dispatch struct {
	SequenceID  uint64 `json:"sequenceId,omitempty"`
	Subscribers int    `json:"subscribers"`
	Recipients  int    `json:"recipients"`
	Delivered   int    `json:"delivered"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
}

// inboxLog 是收件箱的序号计数器与回放缓冲区，在首次订阅时创建，收件箱删除时销毁
type inboxLog struct {
	seq  uint64
	ring *Ring

	// 无订阅者时投递的邮件不分配序号，记录数量以及最后一封之前的序号，
	// 游标不晚于该序号的续传无法补齐这些邮件
	unsequenced      int
	unsequencedAfter uint64
}

// Hub 负责收件箱的订阅管理与广播分发。
//
// 同一收件箱的提交与广播、订阅与回放快照、删除与断开都在同一把分片锁内完成，
// 保证回放和实时事件之间没有重复也没有缺口。不同收件箱落在不同分片时互不阻塞。
type Hub struct {
	opts     Options
	log      *zap.Logger
	recorder Recorder
	registry *Registry

	shards [shardCount]sync.Mutex

	logsMu sync.RWMutex
	logs   map[string]*inboxLog

	closed atomic.Bool
}

// Option 配置 Hub
type Option func(*Hub)

// WithRecorder 设置指标接收方
func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		if r != nil {
			h.recorder = r
		}
	}
}

// New 创建 Hub
func New(opts Options, log *zap.Logger, options ...Option) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.YieldBatch <= 0 {
		opts.YieldBatch = 1
	}
	h := &Hub{
		opts:     opts,
		log:      log.Named("hub"),
		recorder: nopRecorder{},
		registry: NewRegistry(),
		logs:     make(map[string]*inboxLog),
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Registry 返回连接注册表
func (h *Hub) Registry() *Registry {
	return h.registry
}

// QueueSize 返回新连接的发送队列长度
func (h *Hub) QueueSize() int {
	return h.opts.QueueSize
}

func (h *Hub) shard(inboxID string) *sync.Mutex {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(inboxID))
	return &h.shards[hasher.Sum32()%shardCount]
}

func (h *Hub) inboxLog(inboxID string, create bool) *inboxLog {
	h.logsMu.RLock()
	l, ok := h.logs[inboxID]
	h.logsMu.RUnlock()
	if ok || !create {
		return l
	}

	h.logsMu.Lock()
	defer h.logsMu.Unlock()
	if l, ok = h.logs[inboxID]; ok {
		return l
	}
	l = &inboxLog{ring: NewRing(h.opts.RingCapacity)}
	h.logs[inboxID] = l
	return l
}

// Deliver 在收件箱分片锁内执行 commit，成功后立即广播提交的邮件。
//
// commit 的错误原样返回且不会触发广播。订阅者的写入失败不会作为错误返回。
func (h *Hub) Deliver(inboxID string, commit func() (*domain.Email, error)) (*Dispatch, error) {
	mu := h.shard(inboxID)
	mu.Lock()
	defer mu.Unlock()

	email, err := commit()
	if err != nil {
		return nil, err
	}
	return h.broadcast(inboxID, email), nil
}

// broadcast 调用方必须持有 inboxID 的分片锁
func (h *Hub) broadcast(inboxID string, email *domain.Email) *Dispatch {
	targets, total := h.registry.Subscribers(inboxID, h.opts.MaxRecipients)
	dispatch := &Dispatch{Subscribers: total}
	if total == 0 {
		if l := h.inboxLog(inboxID, false); l != nil {
			l.unsequenced++
			l.unsequencedAfter = l.seq
		}
		return dispatch
	}

	l := h.inboxLog(inboxID, true)
	l.seq++
	now := time.Now().UTC()
	l.ring.Add(domain.BroadcastEvent{
		SequenceID: l.seq,
		Kind:       domain.EventEmail,
		InboxID:    inboxID,
		Payload:    domain.Summarize(*email, h.opts.SummaryFields),
		Timestamp:  now,
	})
	dispatch.SequenceID = l.seq

	data, err := json.Marshal(domain.EmailFrame{
		SequenceID: l.seq,
		Kind:       domain.EventEmail,
		InboxID:    inboxID,
		Email:      email,
		Timestamp:  now,
	})
	if err != nil {
		h.log.Error("failed to marshal email frame", zap.String("inbox_id", inboxID), zap.Error(err))
		return dispatch
	}
	frame := Frame{Event: domain.EventEmail, ID: l.seq, Data: data}

	dispatch.Recipients = len(targets)
	var failed []*Connection
	for i, conn := range targets {
		if i > 0 && i%h.opts.YieldBatch == 0 {
			runtime.Gosched()
		}

		err := conn.Enqueue(frame)
		switch {
		case err == nil:
			dispatch.Delivered++
		case errors.Is(err, ErrQueueFull) && !h.opts.Backpressure:
			dispatch.Skipped++
		default:
			dispatch.Failed++
			failed = append(failed, conn)
			h.log.Warn("broadcast write failed",
				zap.String("inbox_id", inboxID),
				zap.String("connection_id", conn.ID),
				zap.Error(err))
		}
	}

	if h.opts.DropFailedClients {
		for _, conn := range failed {
			h.Remove(conn.ID, ErrWriteFailed)
		}
	}

	h.recorder.Dispatched(dispatch)
	h.log.Debug("email broadcast",
		zap.String("inbox_id", inboxID),
		zap.Uint64("sequence_id", dispatch.SequenceID),
		zap.Int("subscribers", total),
		zap.Int("delivered", dispatch.Delivered),
		zap.Int("failed", dispatch.Failed),
		zap.Int("skipped", dispatch.Skipped))

	return dispatch
}

// SubscribeOptions 描述新订阅的回放方式
type SubscribeOptions struct {
	Cursor    uint64
	HasCursor bool
	// Load 在分片锁内读取收件箱，返回错误时订阅失败且不会注册连接
	Load func() (*domain.Inbox, error)
}

// Subscription 是订阅建立时的回放快照
type Subscription struct {
	Mode           string
	Replay         []domain.BroadcastEvent
	Backlog        []domain.Email
	LastSequenceID uint64
	Gap            bool
}

// missedSince 报告游标之后是否有回放无法补齐的邮件：
// 已被回放缓冲区淘汰、投递时没有序号，或游标不属于当前序号历史。
func (l *inboxLog) missedSince(cursor uint64) bool {
	if cursor > l.seq {
		return true
	}
	if oldest, ok := l.ring.Oldest(); ok && oldest > cursor+1 {
		return true
	}
	return l.unsequenced > 0 && cursor <= l.unsequencedAfter
}

// Subscribe 注册连接并在同一临界区内生成回放快照。
//
// 带游标时从回放缓冲区返回序号大于游标的事件；游标之后有无法补齐的邮件时 Gap 为 true。
// 不带游标时返回收件箱的全部邮件。
func (h *Hub) Subscribe(conn *Connection, opts SubscribeOptions) (*Subscription, error) {
	mu := h.shard(conn.InboxID)
	mu.Lock()
	defer mu.Unlock()

	if h.closed.Load() {
		return nil, ErrHubClosed
	}

	inbox, err := opts.Load()
	if err != nil {
		return nil, err
	}

	l := h.inboxLog(conn.InboxID, false)
	if l == nil {
		l = h.inboxLog(conn.InboxID, true)
		// 首次订阅前收到的邮件都没有序号
		l.unsequenced = len(inbox.Emails)
	}
	h.registry.Add(conn)
	h.recorder.ConnectionOpened()

	sub := &Subscription{LastSequenceID: l.seq}
	if opts.HasCursor {
		sub.Mode = domain.ModeReplay
		sub.Replay = l.ring.GetSince(opts.Cursor)
		sub.Gap = l.missedSince(opts.Cursor)
		h.recorder.Replayed(len(sub.Replay))
	} else {
		sub.Mode = domain.ModeBacklog
		sub.Backlog = inbox.Emails
	}

	h.log.Debug("connection subscribed",
		zap.String("inbox_id", conn.InboxID),
		zap.String("connection_id", conn.ID),
		zap.String("mode", sub.Mode),
		zap.Int("replayed", len(sub.Replay)),
		zap.Int("backlog", len(sub.Backlog)))

	return sub, nil
}

// Remove 注销连接并关闭它，返回连接是否仍在注册表中
func (h *Hub) Remove(connID string, reason error) bool {
	conn, ok := h.registry.Remove(connID)
	if !ok {
		return false
	}
	conn.Close(reason)
	h.recorder.ConnectionClosed(reason)
	h.log.Debug("connection removed",
		zap.String("inbox_id", conn.InboxID),
		zap.String("connection_id", connID),
		zap.Error(reason))
	return true
}

// CloseInbox 断开收件箱的全部连接，销毁序号计数器和回放缓冲区，然后调用 erase 删除收件箱本身。
// erase 的错误原样返回。
func (h *Hub) CloseInbox(inboxID string, erase func() error) (int, error) {
	mu := h.shard(inboxID)
	mu.Lock()
	defer mu.Unlock()

	conns := h.registry.RemoveInbox(inboxID)
	for _, conn := range conns {
		conn.Close(ErrInboxDeleted)
		h.recorder.ConnectionClosed(ErrInboxDeleted)
	}

	h.logsMu.Lock()
	delete(h.logs, inboxID)
	h.logsMu.Unlock()

	if err := erase(); err != nil {
		return len(conns), err
	}

	if len(conns) > 0 {
		h.log.Info("inbox subscribers disconnected",
			zap.String("inbox_id", inboxID),
			zap.Int("connections", len(conns)))
	}
	return len(conns), nil
}

// ExpireConnections 移除存活时间超过 maxAge 的连接，返回移除数量
func (h *Hub) ExpireConnections(now time.Time, maxAge time.Duration) int {
	removed := 0
	for _, conn := range h.registry.Older(now.Add(-maxAge)) {
		if h.Remove(conn.ID, ErrConnectionExpired) {
			removed++
		}
	}
	return removed
}

// Stats 是 Hub 的运行计数
type Stats struct {
	Connections       int `json:"activeConnections"`
	SubscribedInboxes int `json:"subscriptionMapSize"`
	RingBuffers       int `json:"ringBuffers"`
	BufferedEvents    int `json:"bufferedEvents"`
}

// Stats 返回当前计数快照
func (h *Hub) Stats() Stats {
	stats := Stats{
		Connections:       h.registry.Len(),
		SubscribedInboxes: h.registry.InboxCount(),
	}

	h.logsMu.RLock()
	logs := make([]string, 0, len(h.logs))
	for id := range h.logs {
		logs = append(logs, id)
	}
	h.logsMu.RUnlock()

	stats.RingBuffers = len(logs)
	for _, id := range logs {
		mu := h.shard(id)
		mu.Lock()
		if l := h.inboxLog(id, false); l != nil {
			stats.BufferedEvents += l.ring.Len()
		}
		mu.Unlock()
	}
	return stats
}

// Closed 报告 Hub 是否已关闭
func (h *Hub) Closed() bool {
	return h.closed.Load()
}

// Shutdown 拒绝新订阅并关闭全部连接
func (h *Hub) Shutdown() int {
	if !h.closed.CompareAndSwap(false, true) {
		return 0
	}

	closed := 0
	for _, conn := range h.registry.All() {
		if h.Remove(conn.ID, ErrShutdown) {
			closed++
		}
	}
	h.log.Info("hub shut down", zap.Int("connections", closed))
	return closed
}
