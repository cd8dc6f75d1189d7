package monitoring

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/service"
)

// Metrics 监控指标
//
// 同时实现 hub.Recorder 与 service.Recorder，由 main 注入到 Hub 和收件箱服务。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 收件箱指标
	InboxesCreated prometheus.Counter
	InboxesDeleted *prometheus.CounterVec
	InboxesActive  prometheus.Gauge
	EmailsReceived prometheus.Counter

	// 推送连接指标
	ConnectionsActive prometheus.Gauge
	ConnectionsClosed *prometheus.CounterVec
	EventsReplayed    prometheus.Counter

	// 广播指标
	BroadcastsTotal  prometheus.Counter
	DeliveriesTotal  *prometheus.CounterVec
	BroadcastFanout  prometheus.Histogram
	SweepDuration    prometheus.Histogram
	SweepExpiredConn prometheus.Counter

	// 错误指标
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

var (
	_ hub.Recorder     = (*Metrics)(nil)
	_ service.Recorder = (*Metrics)(nil)
)

// NewMetrics 在给定注册表上创建监控指标，registry 为 nil 时新建一个
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxcast_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxcast_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboxesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxcast_inboxes_created_total",
			Help: "Total number of inboxes created",
		}),
		InboxesDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxcast_inboxes_deleted_total",
				Help: "Total number of inboxes deleted, by reason",
			},
			[]string{"reason"},
		),
		InboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inboxcast_inboxes_active",
			Help: "Number of live inboxes",
		}),
		EmailsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxcast_emails_received_total",
			Help: "Total number of emails injected",
		}),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inboxcast_stream_connections_active",
			Help: "Number of open stream connections",
		}),
		ConnectionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxcast_stream_connections_closed_total",
				Help: "Total number of closed stream connections, by reason",
			},
			[]string{"reason"},
		),
		EventsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxcast_stream_events_replayed_total",
			Help: "Total number of events replayed from ring buffers",
		}),

		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxcast_broadcasts_total",
			Help: "Total number of broadcasts with at least one subscriber",
		}),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxcast_broadcast_deliveries_total",
				Help: "Broadcast deliveries by outcome",
			},
			[]string{"outcome"},
		),
		BroadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inboxcast_broadcast_fanout",
			Help:    "Number of recipients per broadcast",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inboxcast_sweep_duration_seconds",
			Help:    "Duration of TTL sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		SweepExpiredConn: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxcast_sweep_expired_connections_total",
			Help: "Total number of connections closed for exceeding subscriber TTL",
		}),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxcast_panics_total",
			Help: "Total number of recovered panics",
		}),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxcast_rate_limit_blocks_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// InboxCreated 实现 service.Recorder
func (m *Metrics) InboxCreated() {
	m.InboxesCreated.Inc()
	m.InboxesActive.Inc()
}

// InboxDeleted 实现 service.Recorder
func (m *Metrics) InboxDeleted(reason string) {
	m.InboxesDeleted.WithLabelValues(reason).Inc()
	m.InboxesActive.Dec()
}

// EmailReceived 实现 service.Recorder
func (m *Metrics) EmailReceived() {
	m.EmailsReceived.Inc()
}

// SweepCompleted 实现 service.Recorder
func (m *Metrics) SweepCompleted(result service.SweepResult, elapsed time.Duration) {
	m.SweepDuration.Observe(elapsed.Seconds())
	m.SweepExpiredConn.Add(float64(result.ExpiredConnections))
}

// ConnectionOpened 实现 hub.Recorder
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsActive.Inc()
}

// ConnectionClosed 实现 hub.Recorder
func (m *Metrics) ConnectionClosed(reason error) {
	m.ConnectionsActive.Dec()
	m.ConnectionsClosed.WithLabelValues(CloseReason(reason)).Inc()
}

// Dispatched 实现 hub.Recorder
func (m *Metrics) Dispatched(d *hub.Dispatch) {
	if d == nil || d.Subscribers == 0 {
		return
	}
	m.BroadcastsTotal.Inc()
	m.BroadcastFanout.Observe(float64(d.Recipients))
	m.DeliveriesTotal.WithLabelValues("delivered").Add(float64(d.Delivered))
	m.DeliveriesTotal.WithLabelValues("failed").Add(float64(d.Failed))
	m.DeliveriesTotal.WithLabelValues("skipped").Add(float64(d.Skipped))
}

// Replayed 实现 hub.Recorder
func (m *Metrics) Replayed(n int) {
	m.EventsReplayed.Add(float64(n))
}

// CloseReason 将连接关闭原因归类为指标标签
func CloseReason(err error) string {
	switch {
	case err == nil, errors.Is(err, hub.ErrConnectionClosed):
		return "closed"
	case errors.Is(err, hub.ErrClientGone):
		return "client_gone"
	case errors.Is(err, hub.ErrHeartbeatTimeout):
		return "heartbeat_timeout"
	case errors.Is(err, hub.ErrConnectionExpired):
		return "expired"
	case errors.Is(err, hub.ErrInboxDeleted):
		return "inbox_deleted"
	case errors.Is(err, hub.ErrWriteFailed), errors.Is(err, hub.ErrQueueFull):
		return "write_failed"
	case errors.Is(err, hub.ErrShutdown):
		return "shutdown"
	default:
		return "other"
	}
}

// HTTPHandler 返回 Prometheus 指标处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
