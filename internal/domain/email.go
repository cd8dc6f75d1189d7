package domain

import (
	"time"

	"github.com/google/uuid"
)

// Email 表示投递到收件箱的一封邮件，创建后不可变。
type Email struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Timestamp      time.Time `json:"timestamp"`
	ExtractedCodes []string  `json:"extractedCodes"`
}

// NewEmail 构造邮件并提取正文中的验证码
func NewEmail(from, to, subject, body string, now time.Time) Email {
	return Email{
		ID:             uuid.NewString(),
		From:           from,
		To:             to,
		Subject:        subject,
		Body:           body,
		Timestamp:      now.UTC(),
		ExtractedCodes: ExtractCodes(body),
	}
}
