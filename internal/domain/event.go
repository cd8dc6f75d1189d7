package domain

import "time"

// EventKind 标识推送帧的类型
type EventKind string

const (
	EventEmail     EventKind = "email"
	EventConnected EventKind = "connected"
	EventPing      EventKind = "ping"
)

// 摘要可选字段
const (
	FieldID             = "id"
	FieldFrom           = "from"
	FieldTo             = "to"
	FieldSubject        = "subject"
	FieldBody           = "body"
	FieldTimestamp      = "timestamp"
	FieldExtractedCodes = "extractedCodes"
)

var summaryFields = map[string]struct{}{
	FieldID:             {},
	FieldFrom:           {},
	FieldTo:             {},
	FieldSubject:        {},
	FieldBody:           {},
	FieldTimestamp:      {},
	FieldExtractedCodes: {},
}

// IsSummaryField 判断字段名是否可以写入回放摘要
func IsSummaryField(name string) bool {
	_, ok := summaryFields[name]
	return ok
}

// Summary 是邮件在回放缓冲区中的精简表示，只包含配置的字段。
type Summary map[string]any

// Summarize 按字段列表生成邮件摘要，未知字段被忽略。
func Summarize(email Email, fields []string) Summary {
	out := make(Summary, len(fields))
	for _, field := range fields {
		switch field {
		case FieldID:
			out[field] = email.ID
		case FieldFrom:
			out[field] = email.From
		case FieldTo:
			out[field] = email.To
		case FieldSubject:
			out[field] = email.Subject
		case FieldBody:
			out[field] = email.Body
		case FieldTimestamp:
			out[field] = email.Timestamp
		case FieldExtractedCodes:
			out[field] = email.ExtractedCodes
		}
	}
	return out
}

// BroadcastEvent 是一次广播在回放缓冲区中的记录。
// SequenceID 在单个收件箱内严格递增且永不复用。
type BroadcastEvent struct {
	SequenceID uint64
	Kind       EventKind
	InboxID    string
	Payload    Summary
	Timestamp  time.Time
}

// EmailFrame 是 email 事件的线上格式。
// 实时推送携带完整邮件，游标回放携带摘要，全量积压不带序号。
type EmailFrame struct {
	SequenceID uint64    `json:"sequenceId,omitempty"`
	Kind       EventKind `json:"kind"`
	InboxID    string    `json:"inboxId"`
	Email      any       `json:"email"`
	Replayed   bool      `json:"replayed,omitempty"`
	Backlog    bool      `json:"backlog,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReplayFrame 将回放缓冲区中的事件转换为线上帧
func (e BroadcastEvent) ReplayFrame() EmailFrame {
	return EmailFrame{
		SequenceID: e.SequenceID,
		Kind:       e.Kind,
		InboxID:    e.InboxID,
		Email:      e.Payload,
		Replayed:   true,
		Timestamp:  e.Timestamp,
	}
}

// ConnectedFrame 是连接建立后发送的确认帧
type ConnectedFrame struct {
	InboxID          string    `json:"inboxId"`
	ConnectionID     string    `json:"connectionId"`
	Mode             string    `json:"mode"`
	ReplayedMessages int       `json:"replayedMessages"`
	BacklogMessages  int       `json:"backlogMessages"`
	LastSequenceID   uint64    `json:"lastSequenceId"`
	Gap              bool      `json:"gap"`
	Timestamp        time.Time `json:"timestamp"`
}

// PingFrame 是心跳帧
type PingFrame struct {
	Timestamp time.Time `json:"timestamp"`
}

// 连接建立模式
const (
	ModeBacklog = "backlog"
	ModeReplay  = "replay"
)
