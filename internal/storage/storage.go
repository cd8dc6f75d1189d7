package storage

import (
	"errors"
	"time"

	"tempmail/inboxcast/internal/domain"
)

var (
	// ErrInboxNotFound 收件箱不存在
	ErrInboxNotFound = errors.New("inbox not found")
)

// InboxRepository 定义收件箱数据存取操作。
//
// 实现必须是并发安全的；读取操作返回快照，调用方修改返回值不会影响存储内容。
type InboxRepository interface {
	SaveInbox(inbox *domain.Inbox) error
	GetInbox(id string) (*domain.Inbox, error)
	AppendEmail(inboxID string, email domain.Email) error
	DeleteInbox(id string) error
	ListExpired(now time.Time, ttl time.Duration, limit int) []string
	Count() int
}
