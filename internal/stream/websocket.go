package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tempmail/inboxcast/internal/hub"
)

const (
	wsReadLimit  = 4096
	wsBufferSize = 1024
)

// NewUpgrader 创建带有 Origin 验证的 WebSocket 升级器
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// 非浏览器客户端
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// wsEnvelope 是 WebSocket 文本帧的格式
type wsEnvelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// clientMessage 是客户端发来的文本消息，目前只识别 pong
type clientMessage struct {
	Kind string `json:"kind"`
}

// WebSocketStream 以 JSON 文本帧写出事件，pong 控制帧或 {"kind":"pong"} 文本消息确认心跳
type WebSocketStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	onGone       func()

	mu    sync.Mutex
	onAck func()

	closeOnce sync.Once
}

// NewWebSocket 包装已升级的连接并启动读协程。读协程退出（客户端断开）时调用 onGone。
func NewWebSocket(conn *websocket.Conn, writeTimeout time.Duration, onGone func()) *WebSocketStream {
	s := &WebSocketStream{
		conn:         conn,
		writeTimeout: writeTimeout,
		onGone:       onGone,
	}
	conn.SetReadLimit(wsReadLimit)
	conn.SetPongHandler(func(string) error {
		s.ack()
		return nil
	})
	go s.readPump()
	return s
}

// OnAck 注册心跳确认回调
func (s *WebSocketStream) OnAck(fn func()) {
	s.mu.Lock()
	s.onAck = fn
	s.mu.Unlock()
}

func (s *WebSocketStream) ack() {
	s.mu.Lock()
	fn := s.onAck
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *WebSocketStream) readPump() {
	defer func() {
		if s.onGone != nil {
			s.onGone()
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) == nil && msg.Kind == "pong" {
			s.ack()
		}
	}
}

// Send 写出一个事件帧
func (s *WebSocketStream) Send(frame hub.Frame) error {
	payload, err := json.Marshal(wsEnvelope{
		Event: string(frame.Event),
		ID:    frame.ID,
		Data:  frame.Data,
	})
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Ping 写出心跳事件并发送 ping 控制帧
func (s *WebSocketStream) Ping(frame hub.Frame) error {
	if err := s.Send(frame); err != nil {
		return err
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// Close 发送关闭帧并关闭底层连接
func (s *WebSocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
