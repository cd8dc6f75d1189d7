package health

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// 默认存活检查阈值
const DefaultMaxGoroutines = 10000

// SweepSource 提供最近一次 TTL 清理时间
type SweepSource interface {
	LastSweep() time.Time
}

// HubState 报告推送中心是否仍接受订阅
type HubState interface {
	Closed() bool
}

// Options 定义健康检查参数
type Options struct {
	SweepInterval time.Duration
	MaxGoroutines int
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health    healthcheck.Handler
	readiness map[string]healthcheck.Check
	logger    *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 存活检查：goroutine 数量未超过阈值。
// 就绪检查：Hub 未关闭，且 TTL 清理任务在 3 个间隔内执行过。
func NewHealthChecker(sweeper SweepSource, hub HubState, opts Options, logger *zap.Logger) *HealthChecker {
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = DefaultMaxGoroutines
	}

	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		readiness: make(map[string]healthcheck.Check),
		logger:    logger,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	hc.addReadinessCheck("hub", HubOpenCheck(hub))
	hc.addReadinessCheck("sweeper", SweeperCheck(sweeper, opts.SweepInterval, time.Now(), time.Now))

	return hc
}

func (hc *HealthChecker) addReadinessCheck(name string, check healthcheck.Check) {
	hc.readiness[name] = check
	hc.health.AddReadinessCheck(name, check)
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行就绪检查，返回每项检查的结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	names := make([]string, 0, len(hc.readiness))
	for name := range hc.readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := hc.readiness[name](); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "OK"
	}
	return results
}

// HubOpenCheck Hub 关闭后不再就绪
func HubOpenCheck(hub HubState) healthcheck.Check {
	return func() error {
		if hub.Closed() {
			return errors.New("hub is shut down")
		}
		return nil
	}
}

// SweeperCheck 清理任务健康检查
//
// 启动后的前 3 个间隔内未执行过清理视为正常；之后最近一次清理距今超过 3 个间隔即失败。
func SweeperCheck(src SweepSource, interval time.Duration, started time.Time, now func() time.Time) healthcheck.Check {
	grace := 3 * interval
	return func() error {
		current := now()
		last := src.LastSweep()
		if last.IsZero() {
			if current.Sub(started) > grace {
				return fmt.Errorf("no sweep since start %s ago", current.Sub(started).Round(time.Second))
			}
			return nil
		}
		if age := current.Sub(last); age > grace {
			return fmt.Errorf("last sweep %s ago", age.Round(time.Second))
		}
		return nil
	}
}
