package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/inboxcast/internal/config"
	"tempmail/inboxcast/internal/domain"
	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/storage"
)

// 单次清理最多删除的收件箱数量
const sweepBatch = 500

const (
	addressTokenLength = 12
	defaultSender      = "tester@localhost"
	defaultSubject     = "(no subject)"
)

// 收件箱删除原因
const (
	DeleteReasonAPI     = "api"
	DeleteReasonExpired = "expired"
)

// Recorder 接收收件箱生命周期指标
type Recorder interface {
	InboxCreated()
	InboxDeleted(reason string)
	EmailReceived()
	SweepCompleted(result SweepResult, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) InboxCreated()                             {}
func (nopRecorder) InboxDeleted(string)                       {}
func (nopRecorder) EmailReceived()                            {}
func (nopRecorder) SweepCompleted(SweepResult, time.Duration) {}

// InboxService 封装收件箱的创建、投递、删除与过期清理。
type InboxService struct {
	repo     storage.InboxRepository
	hub      *hub.Hub
	cfg      config.InboxConfig
	log      *zap.Logger
	recorder Recorder
	now      func() time.Time

	lastSweep atomic.Int64
}

// Option 配置 InboxService
type Option func(*InboxService)

// WithClock 替换时间来源，测试中用于推进时钟
func WithClock(now func() time.Time) Option {
	return func(s *InboxService) {
		s.now = now
	}
}

// WithRecorder 设置指标接收方
func WithRecorder(r Recorder) Option {
	return func(s *InboxService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewInboxService 创建收件箱业务服务。
func NewInboxService(repo storage.InboxRepository, h *hub.Hub, cfg config.InboxConfig, log *zap.Logger, opts ...Option) *InboxService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &InboxService{
		repo:     repo,
		hub:      h,
		cfg:      cfg,
		log:      log.Named("inbox"),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate 创建新的收件箱。地址由随机令牌和配置的伪域名组成，不检查与现有地址是否冲突。
func (s *InboxService) Generate() (*domain.Inbox, error) {
	if len(s.cfg.Domains) == 0 {
		return nil, errors.New("no inbox domains configured")
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:addressTokenLength]
	pseudoDomain := s.cfg.Domains[rand.IntN(len(s.cfg.Domains))]

	inbox := &domain.Inbox{
		ID:        uuid.NewString(),
		Address:   fmt.Sprintf("%s@%s", token, pseudoDomain),
		CreatedAt: s.now().UTC(),
		Emails:    []domain.Email{},
	}

	if err := s.repo.SaveInbox(inbox); err != nil {
		return nil, err
	}

	s.recorder.InboxCreated()
	s.log.Info("inbox created", zap.String("inbox_id", inbox.ID), zap.String("address", inbox.Address))
	return inbox, nil
}

// Get 根据 ID 获取收件箱及其全部邮件。
func (s *InboxService) Get(id string) (*domain.Inbox, error) {
	return s.repo.GetInbox(id)
}

// Load 返回用于订阅的收件箱读取函数
func (s *InboxService) Load(id string) func() (*domain.Inbox, error) {
	return func() (*domain.Inbox, error) {
		return s.repo.GetInbox(id)
	}
}

// DeliverInput 定义投递邮件的输入，字段全部为空或 Auto 为 true 时生成模拟邮件。
type DeliverInput struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Auto    bool   `json:"auto"`
}

// Synthetic 判断是否需要生成模拟邮件
func (in DeliverInput) Synthetic() bool {
	return in.Auto || (strings.TrimSpace(in.From) == "" &&
		strings.TrimSpace(in.Subject) == "" &&
		strings.TrimSpace(in.Body) == "")
}

// Deliver 向收件箱追加一封邮件并广播给订阅者。
//
// 收件箱不存在时返回 storage.ErrInboxNotFound 且不做任何修改。
// 订阅者写入失败只反映在 Dispatch 中，不会作为错误返回。
func (s *InboxService) Deliver(id string, input DeliverInput) (*domain.Email, *hub.Dispatch, error) {
	var email domain.Email

	dispatch, err := s.hub.Deliver(id, func() (*domain.Email, error) {
		inbox, err := s.repo.GetInbox(id)
		if err != nil {
			return nil, err
		}
		email = s.buildEmail(inbox.Address, input)
		if err := s.repo.AppendEmail(id, email); err != nil {
			return nil, err
		}
		return &email, nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.recorder.EmailReceived()
	s.log.Info("email delivered",
		zap.String("inbox_id", id),
		zap.String("email_id", email.ID),
		zap.Bool("synthetic", input.Synthetic()),
		zap.Int("recipients", dispatch.Recipients))
	return &email, dispatch, nil
}

func (s *InboxService) buildEmail(to string, input DeliverInput) domain.Email {
	now := s.now()
	if input.Synthetic() {
		m := generateMockEmail()
		return domain.NewEmail(m.From, to, m.Subject, m.Body, now)
	}

	from := strings.TrimSpace(input.From)
	if from == "" {
		from = defaultSender
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = defaultSubject
	}
	return domain.NewEmail(from, to, subject, input.Body, now)
}

// Delete 断开收件箱的全部订阅者并删除收件箱、序号计数器和回放缓冲区。
func (s *InboxService) Delete(id string) error {
	return s.delete(id, DeleteReasonAPI)
}

func (s *InboxService) delete(id, reason string) error {
	closed, err := s.hub.CloseInbox(id, func() error {
		return s.repo.DeleteInbox(id)
	})
	if err != nil {
		return err
	}

	s.recorder.InboxDeleted(reason)
	s.log.Info("inbox deleted",
		zap.String("inbox_id", id),
		zap.String("reason", reason),
		zap.Int("connections_closed", closed))
	return nil
}

// SweepResult 是一次过期清理的结果
type SweepResult struct {
	ExpiredInboxes     int `json:"expiredInboxes"`
	ExpiredConnections int `json:"expiredConnections"`
}

// Sweep 执行一次过期清理：
//   - 收件箱年龄严格大于 TTL 时整体删除，无论是否仍有订阅者；
//   - 连接年龄严格大于订阅者 TTL 时被移除，与收件箱年龄无关。
//
// 每次最多处理 sweepBatch 个收件箱，剩余部分留给下一轮。
func (s *InboxService) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	now := s.now()
	var result SweepResult

	for _, id := range s.repo.ListExpired(now, s.cfg.TTL, sweepBatch) {
		if ctx.Err() != nil {
			break
		}
		err := s.delete(id, DeleteReasonExpired)
		switch {
		case err == nil:
			result.ExpiredInboxes++
		case errors.Is(err, storage.ErrInboxNotFound):
			// 已被并发删除
		default:
			s.log.Warn("failed to expire inbox", zap.String("inbox_id", id), zap.Error(err))
		}
	}

	if ctx.Err() == nil {
		result.ExpiredConnections = s.hub.ExpireConnections(now, s.cfg.SubscriberTTL)
	}

	s.lastSweep.Store(now.UnixNano())
	s.recorder.SweepCompleted(result, time.Since(start))
	if result.ExpiredInboxes > 0 || result.ExpiredConnections > 0 {
		s.log.Info("ttl sweep completed",
			zap.Int("expired_inboxes", result.ExpiredInboxes),
			zap.Int("expired_connections", result.ExpiredConnections))
	}
	return result
}

// LastSweep 返回最近一次清理的时间，从未执行时为零值
func (s *InboxService) LastSweep() time.Time {
	ns := s.lastSweep.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Count 返回当前收件箱数量
func (s *InboxService) Count() int {
	return s.repo.Count()
}
