package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tempmail/inboxcast/internal/domain"
)

// 连接关闭原因
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrQueueFull         = errors.New("send queue full")
	ErrHeartbeatTimeout  = errors.New("heartbeat timeout")
	ErrConnectionExpired = errors.New("connection expired")
	ErrInboxDeleted      = errors.New("inbox deleted")
	ErrWriteFailed       = errors.New("write failed")
	ErrClientGone        = errors.New("client disconnected")
	ErrShutdown          = errors.New("server shutting down")
)

// Frame 是投递到连接发送队列的一条已编码消息
type Frame struct {
	Event domain.EventKind
	ID    uint64 // 0 表示不携带事件序号
	Data  []byte
}

// Connection 表示一个订阅某收件箱的推送连接。
//
// 广播方只向有界队列非阻塞写入，实际的网络写入由连接自己的写协程完成，
// 因此一个卡住的客户端不会拖慢同一收件箱的其他订阅者。
type Connection struct {
	ID        string
	InboxID   string
	CreatedAt time.Time

	lastHeartbeat atomic.Int64
	send          chan Frame
	done          chan struct{}
	closeOnce     sync.Once
	reason        error
}

// NewConnection 创建连接，queueSize 为发送队列长度
func NewConnection(inboxID string, queueSize int, now time.Time) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Connection{
		ID:        uuid.NewString(),
		InboxID:   inboxID,
		CreatedAt: now,
		send:      make(chan Frame, queueSize),
		done:      make(chan struct{}),
	}
	c.lastHeartbeat.Store(now.UnixNano())
	return c
}

// Enqueue 非阻塞地把帧放入发送队列
func (c *Connection) Enqueue(frame Frame) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Queue 返回发送队列的只读端
func (c *Connection) Queue() <-chan Frame {
	return c.send
}

// Done 在连接关闭后可读
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close 关闭连接并记录原因，重复调用无副作用
func (c *Connection) Close(reason error) bool {
	closed := false
	c.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrConnectionClosed
		}
		c.reason = reason
		close(c.done)
		closed = true
	})
	return closed
}

// Err 返回连接关闭原因，未关闭时为 nil
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.reason
	default:
		return nil
	}
}

// Touch 记录一次心跳确认
func (c *Connection) Touch(now time.Time) {
	c.lastHeartbeat.Store(now.UnixNano())
}

// LastHeartbeat 返回最近一次心跳确认时间
func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// HeartbeatExpired 判断心跳是否已超时
func (c *Connection) HeartbeatExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.LastHeartbeat()) > timeout
}
