package httptransport

import (
	"errors"

	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	storage.ErrInboxNotFound: MsgInboxNotFound,
	hub.ErrHubClosed:         MsgServiceShuttingDown,
}

// GetErrorMessage 获取错误的中文消息，支持被包装的错误
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	// 收件箱相关
	MsgInboxCreateFailed = "创建收件箱失败"
	MsgInboxNotFound     = "收件箱不存在"
	MsgInboxDeleteFailed = "删除收件箱失败"

	// 邮件相关
	MsgEmailDeliverFailed = "投递邮件失败"
	MsgRequestTooLarge    = "请求体过大"

	// 推送相关
	MsgStreamOpenFailed     = "建立推送连接失败"
	MsgStreamingUnsupported = "当前连接不支持流式响应"
	MsgServiceShuttingDown  = "服务正在关闭"
)
