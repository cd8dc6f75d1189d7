package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxcast/internal/domain"
	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/storage"
)

var (
	// ErrInboxNotFound 订阅的收件箱不存在，连接不会进入 Open 状态
	ErrInboxNotFound = storage.ErrInboxNotFound
	// ErrReplayFailed 回放阶段写入失败，连接建立被中止
	ErrReplayFailed = errors.New("replay failed")
)

// Stream 是推送连接的传输层
type Stream interface {
	Send(frame hub.Frame) error
	Ping(frame hub.Frame) error
	Close() error
}

// Acker 由客户端异步确认心跳的传输层实现，例如 WebSocket 的 pong。
// 未实现该接口的传输层以 ping 写入成功作为确认。
type Acker interface {
	OnAck(fn func())
}

// InboxLoader 按 ID 返回收件箱读取函数
type InboxLoader interface {
	Load(id string) func() (*domain.Inbox, error)
}

// Options 定义心跳参数
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Server 负责单个推送连接的协议流程：
// Connecting -> Open/Replaying -> Streaming -> Closing。
type Server struct {
	hub     *hub.Hub
	inboxes InboxLoader
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// NewServer 创建推送服务
func NewServer(h *hub.Hub, inboxes InboxLoader, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		hub:     h,
		inboxes: inboxes,
		opts:    opts,
		log:     log.Named("stream"),
		now:     time.Now,
	}
}

// ParseCursor 解析回放游标，格式错误时返回 false，调用方应退回全量积压
func ParseCursor(raw string) (uint64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Session 是已注册到 Hub 的推送连接
type Session struct {
	server *Server
	conn   *hub.Connection
	sub    *hub.Subscription
}

// Open 注册连接并生成回放快照。收件箱不存在时返回 ErrInboxNotFound，此时不会注册任何连接。
//
// Open 在传输层建立之前调用，便于 HTTP 层在升级连接前返回 404。
func (s *Server) Open(inboxID, rawCursor string) (*Session, error) {
	cursor, hasCursor := ParseCursor(rawCursor)
	if rawCursor != "" && !hasCursor {
		s.log.Debug("malformed replay cursor, falling back to backlog",
			zap.String("inbox_id", inboxID),
			zap.String("cursor", rawCursor))
	}

	conn := hub.NewConnection(inboxID, s.hub.QueueSize(), s.now())
	sub, err := s.hub.Subscribe(conn, hub.SubscribeOptions{
		Cursor:    cursor,
		HasCursor: hasCursor,
		Load:      s.inboxes.Load(inboxID),
	})
	if err != nil {
		return nil, err
	}

	return &Session{server: s, conn: conn, sub: sub}, nil
}

// ConnectionID 返回连接 ID
func (sess *Session) ConnectionID() string {
	return sess.conn.ID
}

// Abort 在传输层建立失败时注销连接
func (sess *Session) Abort(reason error) {
	sess.server.hub.Remove(sess.conn.ID, reason)
}

// Run 发送回放与确认帧，然后持续推送直到连接关闭。
//
// 返回连接关闭的原因。无论以何种方式退出，连接都会从注册表注销，心跳定时器都会停止。
func (sess *Session) Run(ctx context.Context, st Stream) (err error) {
	s := sess.server
	conn := sess.conn
	log := s.log.With(zap.String("inbox_id", conn.InboxID), zap.String("connection_id", conn.ID))

	defer func() {
		reason := err
		if reason == nil {
			reason = hub.ErrConnectionClosed
		}
		s.hub.Remove(conn.ID, reason)
		if cerr := st.Close(); cerr != nil {
			log.Debug("failed to close stream", zap.Error(cerr))
		}
		log.Debug("stream closed", zap.Error(reason))
	}()

	if acker, ok := st.(Acker); ok {
		acker.OnAck(func() { conn.Touch(s.now()) })
	}

	replayed, backlog, err := sess.replay(st)
	if err != nil {
		log.Warn("replay aborted", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrReplayFailed, err)
	}

	connected, err := encodeFrame(domain.EventConnected, 0, domain.ConnectedFrame{
		InboxID:          conn.InboxID,
		ConnectionID:     conn.ID,
		Mode:             sess.sub.Mode,
		ReplayedMessages: replayed,
		BacklogMessages:  backlog,
		LastSequenceID:   sess.sub.LastSequenceID,
		Gap:              sess.sub.Gap,
		Timestamp:        s.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := st.Send(connected); err != nil {
		return fmt.Errorf("%w: %w", ErrReplayFailed, err)
	}

	_, acked := st.(Acker)
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return hub.ErrClientGone

		case <-conn.Done():
			return conn.Err()

		case frame := <-conn.Queue():
			if err := st.Send(frame); err != nil {
				return fmt.Errorf("%w: %w", hub.ErrWriteFailed, err)
			}

		case <-ticker.C:
			now := s.now()
			if conn.HeartbeatExpired(now, s.opts.HeartbeatTimeout) {
				log.Info("heartbeat timeout", zap.Time("last_heartbeat", conn.LastHeartbeat()))
				return hub.ErrHeartbeatTimeout
			}
			ping, err := encodeFrame(domain.EventPing, 0, domain.PingFrame{Timestamp: now.UTC()})
			if err != nil {
				return err
			}
			if err := st.Ping(ping); err != nil {
				return fmt.Errorf("%w: %w", hub.ErrWriteFailed, err)
			}
			if !acked {
				conn.Touch(now)
			}
		}
	}
}

// replay 发送游标回放或全量积压
func (sess *Session) replay(st Stream) (replayed, backlog int, err error) {
	if sess.sub.Mode == domain.ModeReplay {
		for _, event := range sess.sub.Replay {
			frame, err := encodeFrame(domain.EventEmail, event.SequenceID, event.ReplayFrame())
			if err != nil {
				return replayed, 0, err
			}
			if err := st.Send(frame); err != nil {
				return replayed, 0, err
			}
			replayed++
		}
		return replayed, 0, nil
	}

	for i := range sess.sub.Backlog {
		email := sess.sub.Backlog[i]
		frame, err := encodeFrame(domain.EventEmail, 0, domain.EmailFrame{
			Kind:      domain.EventEmail,
			InboxID:   sess.conn.InboxID,
			Email:     email,
			Backlog:   true,
			Timestamp: email.Timestamp,
		})
		if err != nil {
			return 0, backlog, err
		}
		if err := st.Send(frame); err != nil {
			return 0, backlog, err
		}
		backlog++
	}
	return 0, backlog, nil
}

func encodeFrame(event domain.EventKind, id uint64, v any) (hub.Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return hub.Frame{}, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return hub.Frame{Event: event, ID: id, Data: data}, nil
}
