package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inboxcast/internal/storage"
)

// createInbox 创建收件箱
// @Summary 创建临时收件箱
// @Description 生成随机地址的一次性收件箱，返回 ID、地址和创建时间
// @Tags Inbox
// @Produce json
// @Success 200 {object} Response{data=domain.InboxInfo}
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /inbox [get]
func (h *Handler) createInbox(c *gin.Context) {
	inbox, err := h.inboxes.Generate()
	if err != nil {
		h.logger.Error("failed to create inbox", zap.Error(err))
		InternalError(c, MsgInboxCreateFailed)
		return
	}
	Success(c, inbox.Info())
}

// deleteInbox 删除收件箱
// @Summary 删除收件箱
// @Description 删除收件箱及其全部邮件，并断开所有推送连接
// @Tags Inbox
// @Produce json
// @Param id path string true "收件箱 ID"
// @Success 200 {object} Response{data=object{id=string,deleted=bool}}
// @Failure 404 {object} Response
// @Router /inbox/{id} [delete]
func (h *Handler) deleteInbox(c *gin.Context) {
	id := c.Param("id")
	if err := h.inboxes.Delete(id); err != nil {
		h.respondError(c, err, MsgInboxDeleteFailed)
		return
	}
	Success(c, gin.H{"id": id, "deleted": true})
}

// respondError 将业务错误映射为响应，未知错误记录日志并返回 500
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, storage.ErrInboxNotFound) {
		NotFound(c, GetErrorMessage(err))
		return
	}

	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("inbox_id", c.Param("id")),
		zap.Error(err))
	_ = c.Error(err)
	InternalError(c, fallback)
}
