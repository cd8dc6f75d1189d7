package stream

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"

	"tempmail/inboxcast/internal/hub"
)

// ErrStreamingUnsupported 表示 ResponseWriter 不支持逐帧刷新
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSEStream 以 Server-Sent Events 格式写出帧
type SSEStream struct {
	w            http.ResponseWriter
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration
}

// NewSSE 写出事件流响应头并立即刷新
func NewSSE(w http.ResponseWriter, writeTimeout time.Duration) (*SSEStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	header := w.Header()
	header.Set("Content-Type", sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEStream{
		w:            w,
		flusher:      flusher,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}, nil
}

// Send 写出一个事件，事件序号作为 SSE id 字段供客户端断线重连时回传
func (s *SSEStream) Send(frame hub.Frame) error {
	event := sse.Event{
		Event: string(frame.Event),
		Data:  string(frame.Data),
	}
	if frame.ID > 0 {
		event.Id = strconv.FormatUint(frame.ID, 10)
	}
	return s.write(event)
}

// Ping 写出心跳事件
func (s *SSEStream) Ping(frame hub.Frame) error {
	return s.write(sse.Event{Event: string(frame.Event), Data: string(frame.Data)})
}

// Close 事件流随 HTTP 处理函数返回而结束
func (s *SSEStream) Close() error {
	return nil
}

func (s *SSEStream) write(event sse.Event) error {
	if s.writeTimeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if err := sse.Encode(s.w, event); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
