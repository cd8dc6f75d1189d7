package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractCodes(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "六位验证码",
			body:     "Your verification code is 482913.",
			expected: []string{"482913"},
		},
		{
			name:     "边界长度",
			body:     "a 1000 b 99999999 c",
			expected: []string{"1000", "99999999"},
		},
		{
			name:     "过短或过长的数字串",
			body:     "pin 123 and order 123456789",
			expected: []string{},
		},
		{
			name:     "前导零导致数值过小",
			body:     "code 0999",
			expected: []string{},
		},
		{
			name:     "去重并保持首次出现顺序",
			body:     "5555 then 7777 then 5555 again",
			expected: []string{"5555", "7777"},
		},
		{
			name:     "字母夹杂的数字串",
			body:     "ref A12345B and x9876",
			expected: []string{"12345", "9876"},
		},
		{
			name:     "空正文",
			body:     "",
			expected: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractCodes(tc.body))
		})
	}
}

func TestSummarize(t *testing.T) {
	email := NewEmail("noreply@example.com", "abc@inbox.test", "Hello", "code 123456", time.Now())

	summary := Summarize(email, []string{FieldID, FieldSubject, FieldExtractedCodes, "unknown"})

	assert.Len(t, summary, 3)
	assert.Equal(t, email.ID, summary[FieldID])
	assert.Equal(t, "Hello", summary[FieldSubject])
	assert.Equal(t, []string{"123456"}, summary[FieldExtractedCodes])
	assert.NotContains(t, summary, FieldBody)
}

func TestInboxExpiredAt(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inbox := &Inbox{ID: "x", CreatedAt: created}

	assert.False(t, inbox.ExpiredAt(created.Add(time.Hour), time.Hour))
	assert.True(t, inbox.ExpiredAt(created.Add(time.Hour+time.Nanosecond), time.Hour))
}

func TestInboxClone(t *testing.T) {
	inbox := &Inbox{ID: "x", Emails: []Email{{ID: "1"}}}
	clone := inbox.Clone()
	clone.Emails[0].ID = "2"

	assert.Equal(t, "1", inbox.Emails[0].ID)
}
