package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/inboxcast/internal/domain"
	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/service"
)

// InboxDetail 是收件箱元数据与全部邮件
type InboxDetail struct {
	domain.InboxInfo
	Emails []domain.Email `json:"emails"`
	Count  int            `json:"count"`
}

// DeliverResult 是投递结果
type DeliverResult struct {
	Email    *domain.Email `json:"email"`
	Dispatch *hub.Dispatch `json:"dispatch"`
}

// listEmails 获取收件箱全部邮件
// @Summary 获取邮件列表
// @Description 非实时的兜底接口，返回收件箱元数据和按到达顺序排列的全部邮件
// @Tags Email
// @Produce json
// @Param id path string true "收件箱 ID"
// @Success 200 {object} Response{data=InboxDetail}
// @Failure 404 {object} Response
// @Router /emails/{id} [get]
func (h *Handler) listEmails(c *gin.Context) {
	inbox, err := h.inboxes.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err, MsgInboxNotFound)
		return
	}

	Success(c, InboxDetail{
		InboxInfo: inbox.Info(),
		Emails:    inbox.Emails,
		Count:     len(inbox.Emails),
	})
}

// deliverEmail 投递邮件
// @Summary 投递邮件
// @Description 向收件箱追加一封邮件并推送给订阅者。请求体为空、JSON 无效或 auto 为 true 时生成模拟邮件
// @Tags Email
// @Accept json
// @Produce json
// @Param id path string true "收件箱 ID"
// @Param request body service.DeliverInput false "邮件内容"
// @Success 201 {object} Response{data=DeliverResult}
// @Failure 404 {object} Response
// @Failure 413 {object} Response
// @Failure 429 {object} Response
// @Router /emails/{id} [post]
func (h *Handler) deliverEmail(c *gin.Context) {
	var input service.DeliverInput
	if err := c.ShouldBindJSON(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, MsgRequestTooLarge)
			return
		}
		// 无法解析的请求体退化为模拟邮件
		input = service.DeliverInput{Auto: true}
	}

	email, dispatch, err := h.inboxes.Deliver(c.Param("id"), input)
	if err != nil {
		h.respondError(c, err, MsgEmailDeliverFailed)
		return
	}

	Created(c, DeliverResult{Email: email, Dispatch: dispatch})
}
