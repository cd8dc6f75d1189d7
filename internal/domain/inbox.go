package domain

import "time"

// Inbox 表示一个一次性收件箱，按到达顺序累积邮件。
type Inbox struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	Emails    []Email   `json:"emails"`
}

// InboxInfo 是收件箱的元数据视图，不含邮件列表。
type InboxInfo struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

// Info 返回收件箱元数据
func (i *Inbox) Info() InboxInfo {
	return InboxInfo{ID: i.ID, Address: i.Address, CreatedAt: i.CreatedAt}
}

// Clone 返回收件箱的快照，邮件切片独立复制。
func (i *Inbox) Clone() *Inbox {
	out := *i
	out.Emails = make([]Email, len(i.Emails))
	copy(out.Emails, i.Emails)
	return &out
}

// ExpiredAt 判断收件箱在 now 时刻是否已超过 ttl（严格大于）。
func (i *Inbox) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(i.CreatedAt) > ttl
}
