package httptransport

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/stream"
)

// replayCursor 读取客户端回传的最后事件序号，优先使用 Last-Event-ID 头
func replayCursor(c *gin.Context) string {
	if cursor := c.GetHeader("Last-Event-ID"); cursor != "" {
		return cursor
	}
	return c.Query("lastEventId")
}

// streamSSE 订阅收件箱推送（SSE）
// @Summary 订阅邮件推送（SSE）
// @Description 建立 Server-Sent Events 连接。携带 Last-Event-ID 时从回放缓冲区续传，否则先发送全部历史邮件，然后发送 connected 事件；之后推送 email 与 ping 事件
// @Tags Stream
// @Produce text/event-stream
// @Param id path string true "收件箱 ID"
// @Param Last-Event-ID header string false "最后收到的事件序号"
// @Param lastEventId query string false "最后收到的事件序号（无法设置请求头时使用）"
// @Success 200 {string} string "event stream"
// @Failure 404 {object} Response
// @Router /emails/{id}/stream [get]
func (h *Handler) streamSSE(c *gin.Context) {
	sess, err := h.streams.Open(c.Param("id"), replayCursor(c))
	if err != nil {
		h.respondStreamError(c, err)
		return
	}

	st, err := stream.NewSSE(c.Writer, h.writeTimeout)
	if err != nil {
		sess.Abort(err)
		InternalError(c, MsgStreamingUnsupported)
		return
	}

	reason := sess.Run(c.Request.Context(), st)
	h.logStreamEnd("sse", c.Param("id"), sess.ConnectionID(), reason)
}

// streamWebSocket 订阅收件箱推送（WebSocket）
// @Summary 订阅邮件推送（WebSocket）
// @Description 与 SSE 推送语义一致，事件以 {"event","id","data"} 文本帧发送；客户端可回复 pong 控制帧或 {"kind":"pong"} 确认心跳
// @Tags Stream
// @Param id path string true "收件箱 ID"
// @Param lastEventId query string false "最后收到的事件序号"
// @Success 101 {string} string "switching protocols"
// @Failure 404 {object} Response
// @Router /emails/{id}/ws [get]
func (h *Handler) streamWebSocket(c *gin.Context) {
	sess, err := h.streams.Open(c.Param("id"), replayCursor(c))
	if err != nil {
		h.respondStreamError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已写出错误响应
		sess.Abort(err)
		h.logger.Debug("websocket upgrade failed", zap.String("inbox_id", c.Param("id")), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	st := stream.NewWebSocket(conn, h.writeTimeout, cancel)
	reason := sess.Run(ctx, st)
	h.logStreamEnd("websocket", c.Param("id"), sess.ConnectionID(), reason)
}

func (h *Handler) respondStreamError(c *gin.Context, err error) {
	if errors.Is(err, hub.ErrHubClosed) {
		ServiceUnavailable(c, GetErrorMessage(err))
		return
	}
	h.respondError(c, err, MsgStreamOpenFailed)
}

func (h *Handler) logStreamEnd(transport, inboxID, connectionID string, reason error) {
	fields := []zap.Field{
		zap.String("transport", transport),
		zap.String("inbox_id", inboxID),
		zap.String("connection_id", connectionID),
		zap.Error(reason),
	}
	switch {
	case errors.Is(reason, hub.ErrClientGone), errors.Is(reason, hub.ErrInboxDeleted),
		errors.Is(reason, hub.ErrShutdown), errors.Is(reason, hub.ErrConnectionExpired):
		h.logger.Debug("stream ended", fields...)
	default:
		h.logger.Info("stream ended", fields...)
	}
}
