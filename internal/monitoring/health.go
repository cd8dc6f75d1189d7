package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxcast/internal/config"
	"tempmail/inboxcast/internal/hub"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// 资源阈值，超过后报告降级
const (
	memoryLimitMB  = 1024.0
	goroutineLimit = 5000
)

// Settings 是对外公开的运行配置
type Settings struct {
	InboxTTL          string   `json:"inboxTtl"`
	SubscriberTTL     string   `json:"subscriberTtl"`
	RingCapacity      int      `json:"ringCapacity"`
	SummaryFields     []string `json:"summaryFields"`
	HeartbeatInterval string   `json:"heartbeatInterval"`
	HeartbeatTimeout  string   `json:"heartbeatTimeout"`
	Backpressure      bool     `json:"backpressure"`
	MaxRecipients     int      `json:"maxRecipients"`
	DropFailedClients bool     `json:"dropFailedClients"`
}

// HealthReport 健康报告
type HealthReport struct {
	hub.Stats

	Status        HealthStatus      `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Uptime        string            `json:"uptime"`
	ActiveInboxes int               `json:"activeInboxes"`
	Checks        map[string]string `json:"checks"`
	Config        Settings          `json:"config"`
}

// StatsSource 提供推送中心计数
type StatsSource interface {
	Stats() hub.Stats
}

// InboxCounter 提供收件箱数量
type InboxCounter interface {
	Count() int
}

// CheckRunner 执行就绪检查
type CheckRunner interface {
	CheckHealth() map[string]string
}

// Reporter 汇总 /health 报告
type Reporter struct {
	inboxes   InboxCounter
	stats     StatsSource
	checks    CheckRunner
	settings  Settings
	logger    *zap.Logger
	startTime time.Time
}

// NewReporter 创建健康报告生成器
func NewReporter(inboxes InboxCounter, stats StatsSource, checks CheckRunner, cfg *config.Config, logger *zap.Logger) *Reporter {
	return &Reporter{
		inboxes:   inboxes,
		stats:     stats,
		checks:    checks,
		settings:  SettingsFrom(cfg),
		logger:    logger,
		startTime: time.Now(),
	}
}

// SettingsFrom 提取可公开的配置项
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		InboxTTL:          cfg.Inbox.TTL.String(),
		SubscriberTTL:     cfg.Inbox.SubscriberTTL.String(),
		RingCapacity:      cfg.Stream.RingCapacity,
		SummaryFields:     cfg.Stream.SummaryFields,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval.String(),
		HeartbeatTimeout:  cfg.Stream.HeartbeatTimeout.String(),
		Backpressure:      cfg.Broadcast.Backpressure,
		MaxRecipients:     cfg.Broadcast.MaxRecipients,
		DropFailedClients: cfg.Broadcast.DropFailedClients,
	}
}

// Report 生成健康报告。任何检查失败时状态为 degraded。
func (r *Reporter) Report() *HealthReport {
	report := &HealthReport{
		Status:        HealthStatusHealthy,
		Timestamp:     time.Now().UTC(),
		Uptime:        time.Since(r.startTime).Round(time.Second).String(),
		ActiveInboxes: r.inboxes.Count(),
		Stats:         r.stats.Stats(),
		Checks:        make(map[string]string),
		Config:        r.settings,
	}

	if r.checks != nil {
		for name, result := range r.checks.CheckHealth() {
			report.Checks[name] = result
		}
	}
	report.Checks["memory"] = checkMemory()
	report.Checks["goroutines"] = checkGoroutines()

	for _, result := range report.Checks {
		if strings.HasPrefix(result, "ERROR") || strings.HasPrefix(result, "DEGRADED") {
			report.Status = HealthStatusDegraded
			break
		}
	}
	return report
}

// checkMemory 检查内存使用
func checkMemory() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usageMB := float64(m.Alloc) / 1024 / 1024
	if usageMB > memoryLimitMB {
		return fmt.Sprintf("DEGRADED: high memory usage %.2f MB", usageMB)
	}
	return "OK"
}

// checkGoroutines 检查 goroutine 数量，每个推送连接至少占用一个 goroutine
func checkGoroutines() string {
	if n := runtime.NumGoroutine(); n > goroutineLimit {
		return fmt.Sprintf("DEGRADED: high goroutine count %d", n)
	}
	return "OK"
}

// Watch 定期生成报告并在降级时记录日志，直到 ctx 结束
func (r *Reporter) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := r.Report()
			if report.Status == HealthStatusDegraded {
				r.logger.Warn("health check degraded",
					zap.Any("checks", report.Checks),
					zap.Int("active_connections", report.Connections))
				continue
			}
			r.logger.Debug("health check passed",
				zap.Int("active_inboxes", report.ActiveInboxes),
				zap.Int("active_connections", report.Connections))
		}
	}
}
