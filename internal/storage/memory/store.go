package memory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"tempmail/inboxcast/internal/domain"
	"tempmail/inboxcast/internal/storage"
)

var (
	ErrInboxNotFound = storage.ErrInboxNotFound
	ErrInboxExists   = errors.New("inbox already exists")
)

var _ storage.InboxRepository = (*Store)(nil)

// Store 使用内存保存收件箱与邮件，进程重启后数据全部丢失。
type Store struct {
	mu      sync.RWMutex
	inboxes map[string]*domain.Inbox
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		inboxes: make(map[string]*domain.Inbox),
	}
}

// SaveInbox 保存新收件箱。地址不做唯一性检查。
func (s *Store) SaveInbox(inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[inbox.ID]; ok {
		return ErrInboxExists
	}
	stored := inbox.Clone()
	s.inboxes[inbox.ID] = stored
	return nil
}

// GetInbox 根据 ID 获取收件箱快照。
func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inbox, ok := s.inboxes[id]
	if !ok {
		return nil, ErrInboxNotFound
	}
	return inbox.Clone(), nil
}

// AppendEmail 追加邮件。收件箱不存在时不做任何修改。
func (s *Store) AppendEmail(inboxID string, email domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, ok := s.inboxes[inboxID]
	if !ok {
		return ErrInboxNotFound
	}
	inbox.Emails = append(inbox.Emails, email)
	return nil
}

// DeleteInbox 删除收件箱及其全部邮件。
func (s *Store) DeleteInbox(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[id]; !ok {
		return ErrInboxNotFound
	}
	delete(s.inboxes, id)
	return nil
}

// ListExpired 返回在 now 时刻年龄严格大于 ttl 的收件箱 ID，按创建时间从旧到新，最多 limit 个。
// limit <= 0 表示不限制。
func (s *Store) ListExpired(now time.Time, ttl time.Duration, limit int) []string {
	s.mu.RLock()
	expired := make([]*domain.Inbox, 0)
	for _, inbox := range s.inboxes {
		if inbox.ExpiredAt(now, ttl) {
			expired = append(expired, inbox)
		}
	}
	s.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]string, len(expired))
	for i, inbox := range expired {
		ids[i] = inbox.ID
	}
	return ids
}

// Count 返回当前收件箱数量。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inboxes)
}
