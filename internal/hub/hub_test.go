package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tempmail/inboxcast/internal/domain"
)

var errNotFound = errors.New("not found")

// fakeInboxes 是测试用的最小收件箱存储
type fakeInboxes struct {
	mu      sync.Mutex
	inboxes map[string]*domain.Inbox
}

func newFakeInboxes(ids ...string) *fakeInboxes {
	f := &fakeInboxes{inboxes: make(map[string]*domain.Inbox)}
	for _, id := range ids {
		f.inboxes[id] = &domain.Inbox{ID: id, Address: id + "@inbox.test", CreatedAt: time.Now()}
	}
	return f
}

func (f *fakeInboxes) load(id string) func() (*domain.Inbox, error) {
	return func() (*domain.Inbox, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		inbox, ok := f.inboxes[id]
		if !ok {
			return nil, errNotFound
		}
		return inbox.Clone(), nil
	}
}

func (f *fakeInboxes) commit(id, subject string) func() (*domain.Email, error) {
	return func() (*domain.Email, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		inbox, ok := f.inboxes[id]
		if !ok {
			return nil, errNotFound
		}
		email := domain.NewEmail("sender@example.com", inbox.Address, subject, "code 123456", time.Now())
		inbox.Emails = append(inbox.Emails, email)
		return &email, nil
	}
}

func (f *fakeInboxes) erase(id string) func() error {
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.inboxes[id]; !ok {
			return errNotFound
		}
		delete(f.inboxes, id)
		return nil
	}
}

func testOptions() Options {
	return Options{
		RingCapacity:      10,
		SummaryFields:     []string{domain.FieldID, domain.FieldSubject},
		QueueSize:         16,
		MaxRecipients:     100,
		YieldBatch:        10,
		Backpressure:      true,
		DropFailedClients: true,
	}
}

func subscribe(t *testing.T, h *Hub, store *fakeInboxes, inboxID string, queueSize int, cursor *uint64) (*Connection, *Subscription) {
	t.Helper()
	conn := NewConnection(inboxID, queueSize, time.Now())
	opts := SubscribeOptions{Load: store.load(inboxID)}
	if cursor != nil {
		opts.Cursor = *cursor
		opts.HasCursor = true
	}
	sub, err := h.Subscribe(conn, opts)
	require.NoError(t, err)
	return conn, sub
}

func drain(conn *Connection) []Frame {
	var frames []Frame
	for {
		select {
		case f := <-conn.Queue():
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestDeliverWithoutSubscribers(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")

	for i := 0; i < 3; i++ {
		dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "hello"))
		require.NoError(t, err)
		assert.Equal(t, 0, dispatch.Subscribers)
		assert.Equal(t, uint64(0), dispatch.SequenceID)
	}

	stats := h.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.SubscribedInboxes)
	assert.Equal(t, 0, stats.RingBuffers)
	assert.Len(t, store.inboxes["inbox-1"].Emails, 3)
}

func TestDeliverUnknownInbox(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes()

	dispatch, err := h.Deliver("missing", store.commit("missing", "hello"))

	assert.ErrorIs(t, err, errNotFound)
	assert.Nil(t, dispatch)
}

func TestDeliverEncodesFrameOnce(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	a, _ := subscribe(t, h, store, "inbox-1", 4, nil)
	b, _ := subscribe(t, h, store, "inbox-1", 4, nil)

	dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "welcome"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), dispatch.SequenceID)
	assert.Equal(t, 2, dispatch.Delivered)

	fa := drain(a)
	fb := drain(b)
	require.Len(t, fa, 1)
	require.Len(t, fb, 1)
	assert.Equal(t, domain.EventEmail, fa[0].Event)
	assert.Equal(t, uint64(1), fa[0].ID)
	// 同一次广播的所有订阅者共享一份编码结果
	assert.Same(t, &fa[0].Data[0], &fb[0].Data[0])

	var frame struct {
		SequenceID uint64       `json:"sequenceId"`
		Kind       string       `json:"kind"`
		InboxID    string       `json:"inboxId"`
		Email      domain.Email `json:"email"`
	}
	require.NoError(t, json.Unmarshal(fa[0].Data, &frame))
	assert.Equal(t, uint64(1), frame.SequenceID)
	assert.Equal(t, "email", frame.Kind)
	assert.Equal(t, "welcome", frame.Email.Subject)
	assert.Equal(t, []string{"123456"}, frame.Email.ExtractedCodes)
}

func TestDeliverRecipientCap(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")

	conns := make([]*Connection, 0, 150)
	for i := 0; i < 150; i++ {
		c, _ := subscribe(t, h, store, "inbox-1", 4, nil)
		conns = append(conns, c)
	}

	dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "capped"))

	require.NoError(t, err)
	assert.Equal(t, 150, dispatch.Subscribers)
	assert.Equal(t, 100, dispatch.Recipients)
	assert.Equal(t, 100, dispatch.Delivered)
	assert.Equal(t, 0, dispatch.Failed)

	for i, c := range conns {
		if i < 100 {
			assert.Len(t, drain(c), 1, "subscriber %d", i)
		} else {
			assert.Empty(t, drain(c), "subscriber %d", i)
		}
	}
	assert.Equal(t, 150, h.Registry().Len())
}

func TestDeliverBackpressure(t *testing.T) {
	t.Run("队列满视为失败并移除连接", func(t *testing.T) {
		h := New(testOptions(), zap.NewNop())
		store := newFakeInboxes("inbox-1")
		slow, _ := subscribe(t, h, store, "inbox-1", 1, nil)
		fast, _ := subscribe(t, h, store, "inbox-1", 8, nil)

		_, err := h.Deliver("inbox-1", store.commit("inbox-1", "one"))
		require.NoError(t, err)
		dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "two"))
		require.NoError(t, err)

		assert.Equal(t, 1, dispatch.Failed)
		assert.Equal(t, 1, dispatch.Delivered)
		assert.ErrorIs(t, slow.Err(), ErrWriteFailed)
		assert.False(t, h.Registry().contains("inbox-1", slow.ID))
		assert.Len(t, drain(fast), 2)
	})

	t.Run("关闭背压时跳过该订阅者", func(t *testing.T) {
		opts := testOptions()
		opts.Backpressure = false
		h := New(opts, zap.NewNop())
		store := newFakeInboxes("inbox-1")
		slow, _ := subscribe(t, h, store, "inbox-1", 1, nil)

		_, err := h.Deliver("inbox-1", store.commit("inbox-1", "one"))
		require.NoError(t, err)
		dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "two"))
		require.NoError(t, err)

		assert.Equal(t, 1, dispatch.Skipped)
		assert.Equal(t, 0, dispatch.Failed)
		assert.Nil(t, slow.Err())
		assert.True(t, h.Registry().contains("inbox-1", slow.ID))
	})

	t.Run("不移除失败连接时只记录", func(t *testing.T) {
		opts := testOptions()
		opts.DropFailedClients = false
		h := New(opts, zap.NewNop())
		store := newFakeInboxes("inbox-1")
		slow, _ := subscribe(t, h, store, "inbox-1", 1, nil)

		_, _ = h.Deliver("inbox-1", store.commit("inbox-1", "one"))
		dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "two"))
		require.NoError(t, err)

		assert.Equal(t, 1, dispatch.Failed)
		assert.True(t, h.Registry().contains("inbox-1", slow.ID))
	})
}

func TestSubscribeBacklog(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	for i := 1; i <= 3; i++ {
		_, err := h.Deliver("inbox-1", store.commit("inbox-1", fmt.Sprintf("mail %d", i)))
		require.NoError(t, err)
	}

	_, sub := subscribe(t, h, store, "inbox-1", 4, nil)

	assert.Equal(t, domain.ModeBacklog, sub.Mode)
	require.Len(t, sub.Backlog, 3)
	assert.Equal(t, "mail 1", sub.Backlog[0].Subject)
	assert.Equal(t, "mail 3", sub.Backlog[2].Subject)
	assert.Empty(t, sub.Replay)
	assert.Equal(t, uint64(0), sub.LastSequenceID)
}

func TestSubscribeUnknownInbox(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes()

	_, err := h.Subscribe(NewConnection("missing", 4, time.Now()), SubscribeOptions{Load: store.load("missing")})

	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, 0, h.Registry().Len())
	assert.Equal(t, 0, h.Stats().RingBuffers)
}

func TestReplayResume(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	first, _ := subscribe(t, h, store, "inbox-1", 16, nil)

	for i := 1; i <= 5; i++ {
		_, err := h.Deliver("inbox-1", store.commit("inbox-1", fmt.Sprintf("mail %d", i)))
		require.NoError(t, err)
	}

	// 客户端只收到前三条就断开
	received := drain(first)[:3]
	h.Remove(first.ID, ErrClientGone)
	cursor := received[len(received)-1].ID

	_, sub := subscribe(t, h, store, "inbox-1", 16, &cursor)

	assert.Equal(t, domain.ModeReplay, sub.Mode)
	assert.Equal(t, []uint64{4, 5}, sequenceIDs(sub.Replay))
	assert.Equal(t, uint64(5), sub.LastSequenceID)
	assert.False(t, sub.Gap)
	assert.Equal(t, "mail 4", sub.Replay[0].Payload[domain.FieldSubject])
	assert.NotContains(t, sub.Replay[0].Payload, domain.FieldBody)

	// 回放之后的新事件只通过实时推送到达一次
	second, _ := subscribe(t, h, store, "inbox-1", 16, &sub.LastSequenceID)
	_, err := h.Deliver("inbox-1", store.commit("inbox-1", "mail 6"))
	require.NoError(t, err)
	frames := drain(second)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(6), frames[0].ID)
}

func TestReplayGapAfterWraparound(t *testing.T) {
	opts := testOptions()
	opts.RingCapacity = 3
	h := New(opts, zap.NewNop())
	store := newFakeInboxes("inbox-1")
	conn, _ := subscribe(t, h, store, "inbox-1", 32, nil)

	var last uint64
	for i := 0; i < 10; i++ {
		dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "x"))
		require.NoError(t, err)
		assert.Greater(t, dispatch.SequenceID, last)
		last = dispatch.SequenceID
	}
	assert.Len(t, drain(conn), 10)

	cursor := uint64(2)
	_, sub := subscribe(t, h, store, "inbox-1", 4, &cursor)

	assert.Equal(t, []uint64{8, 9, 10}, sequenceIDs(sub.Replay))
	assert.True(t, sub.Gap)
}

func TestReplayGapAfterUnsequencedDelivery(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	conn, _ := subscribe(t, h, store, "inbox-1", 16, nil)

	dispatch, err := h.Deliver("inbox-1", store.commit("inbox-1", "seen"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), dispatch.SequenceID)
	h.Remove(conn.ID, ErrClientGone)

	dispatch, err = h.Deliver("inbox-1", store.commit("inbox-1", "missed"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), dispatch.SequenceID)

	cursor := uint64(1)
	_, sub := subscribe(t, h, store, "inbox-1", 16, &cursor)
	assert.Empty(t, sub.Replay)
	assert.Equal(t, uint64(1), sub.LastSequenceID)
	assert.True(t, sub.Gap)

	t.Run("游标超前于当前序号", func(t *testing.T) {
		ahead := uint64(7)
		_, sub := subscribe(t, h, store, "inbox-1", 16, &ahead)
		assert.Empty(t, sub.Replay)
		assert.True(t, sub.Gap)
	})
}

func TestRemoveConnection(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	conn, _ := subscribe(t, h, store, "inbox-1", 4, nil)

	assert.True(t, h.Remove(conn.ID, ErrClientGone))
	assert.False(t, h.Remove(conn.ID, ErrClientGone))

	assert.False(t, h.Registry().contains("inbox-1", conn.ID))
	_, found := h.Registry().lookup(conn.ID)
	assert.False(t, found)
	assert.ErrorIs(t, conn.Err(), ErrClientGone)

	// 缓冲区在订阅者全部离开后仍然保留
	assert.Equal(t, 1, h.Stats().RingBuffers)
}

func TestCloseInbox(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1", "inbox-2")
	a, _ := subscribe(t, h, store, "inbox-1", 4, nil)
	b, _ := subscribe(t, h, store, "inbox-1", 4, nil)
	other, _ := subscribe(t, h, store, "inbox-2", 4, nil)

	closed, err := h.CloseInbox("inbox-1", store.erase("inbox-1"))

	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.ErrorIs(t, a.Err(), ErrInboxDeleted)
	assert.ErrorIs(t, b.Err(), ErrInboxDeleted)
	assert.Nil(t, other.Err())
	assert.Equal(t, 0, h.Registry().Count("inbox-1"))
	assert.Equal(t, 1, h.Stats().RingBuffers)

	_, err = h.CloseInbox("inbox-1", store.erase("inbox-1"))
	assert.ErrorIs(t, err, errNotFound)
}

func TestExpireConnections(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	now := time.Now()

	old := NewConnection("inbox-1", 4, now.Add(-2*time.Hour))
	_, err := h.Subscribe(old, SubscribeOptions{Load: store.load("inbox-1")})
	require.NoError(t, err)
	fresh, _ := subscribe(t, h, store, "inbox-1", 4, nil)

	removed := h.ExpireConnections(now, time.Hour)

	assert.Equal(t, 1, removed)
	assert.ErrorIs(t, old.Err(), ErrConnectionExpired)
	assert.Nil(t, fresh.Err())
}

func TestShutdown(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	conn, _ := subscribe(t, h, store, "inbox-1", 4, nil)

	assert.Equal(t, 1, h.Shutdown())
	assert.Equal(t, 0, h.Shutdown())
	assert.ErrorIs(t, conn.Err(), ErrShutdown)

	_, err := h.Subscribe(NewConnection("inbox-1", 4, time.Now()), SubscribeOptions{Load: store.load("inbox-1")})
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestConcurrentDeliverAndSubscribe(t *testing.T) {
	h := New(testOptions(), zap.NewNop())
	store := newFakeInboxes("inbox-1")
	watcher, _ := subscribe(t, h, store, "inbox-1", 256, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = h.Deliver("inbox-1", store.commit("inbox-1", "concurrent"))
			}
		}()
	}
	wg.Wait()

	frames := drain(watcher)
	require.Len(t, frames, 80)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.ID)
	}
}

func TestLoggerName(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := New(testOptions(), zap.New(core).Named("inboxcast"))
	store := newFakeInboxes("inbox-1")
	subscribe(t, h, store, "inbox-1", 4, nil)

	entries := logs.FilterMessage("connection subscribed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "inboxcast.hub", entries[0].LoggerName)
}
