package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"tempmail/inboxcast/internal/domain"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// InboxConfig 定义临时收件箱的生命周期配置
type InboxConfig struct {
	Domains       []string      // 生成地址时使用的伪域名列表
	TTL           time.Duration // 收件箱最长存活时间，超过后整体删除
	SubscriberTTL time.Duration // 单个订阅连接最长存活时间
	SweepInterval time.Duration // TTL 清理任务的执行间隔
}

// StreamConfig 定义推送流与回放缓冲区配置
type StreamConfig struct {
	RingCapacity      int           // 每个收件箱回放缓冲区容量
	SummaryFields     []string      // 写入回放缓冲区的邮件字段
	HeartbeatInterval time.Duration // ping 间隔
	HeartbeatTimeout  time.Duration // 超过该时长未确认心跳的连接会被移除
	WriteTimeout      time.Duration // 单次写入超时
	QueueSize         int           // 每个连接的发送队列长度
}

// BroadcastConfig 定义广播分发策略
type BroadcastConfig struct {
	Backpressure      bool // 发送队列已满时视为写入失败
	MaxRecipients     int  // 单次广播最多投递的订阅者数量
	YieldBatch        int  // 每写入多少个订阅者让出一次调度
	DropFailedClients bool // 是否移除写入失败的连接
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// RateLimitConfig 定义写接口的按 IP 限流配置
type RateLimitConfig struct {
	RPS   float64 // 每秒允许的请求数，0 表示关闭
	Burst int     // 突发容量
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Inbox     InboxConfig
	Stream    StreamConfig
	Broadcast BroadcastConfig
	CORS      CORSConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量、.env 文件和可选的配置文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（前缀 TEMPMAIL_，例如 TEMPMAIL_STREAM_RING_CAPACITY）
//  2. .env 文件（如果存在）
//  3. TEMPMAIL_CONFIG_FILE 指定的配置文件（yaml/json/toml）
//  4. 默认值
//
// 返回的配置在进程生命周期内只读，不会按请求重新加载。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv("TEMPMAIL_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := checkUnknownKeys(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Inbox: InboxConfig{
			Domains: normalizeDomains(listValue(v, "inbox.domains")),
		},
		Stream: StreamConfig{
			RingCapacity:  v.GetInt("stream.ring_capacity"),
			SummaryFields: listValue(v, "stream.summary_fields"),
			QueueSize:     v.GetInt("stream.queue_size"),
		},
		Broadcast: BroadcastConfig{
			Backpressure:      v.GetBool("broadcast.backpressure"),
			MaxRecipients:     v.GetInt("broadcast.max_recipients"),
			YieldBatch:        v.GetInt("broadcast.yield_batch"),
			DropFailedClients: v.GetBool("broadcast.drop_failed_clients"),
		},
		CORS: CORSConfig{
			AllowedOrigins: listValue(v, "cors.allowed_origins"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("ratelimit.rps"),
			Burst: v.GetInt("ratelimit.burst"),
		},
	}

	durations := map[string]*time.Duration{
		"inbox.ttl":                 &cfg.Inbox.TTL,
		"inbox.subscriber_ttl":      &cfg.Inbox.SubscriberTTL,
		"inbox.sweep_interval":      &cfg.Inbox.SweepInterval,
		"stream.heartbeat_interval": &cfg.Stream.HeartbeatInterval,
		"stream.heartbeat_timeout":  &cfg.Stream.HeartbeatTimeout,
		"stream.write_timeout":      &cfg.Stream.WriteTimeout,
	}
	for key, dst := range durations {
		d, err := durationValue(v, key)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults 同时是允许出现在配置文件中的全部键
var defaults = map[string]any{
	"server.host":                   "0.0.0.0",
	"server.port":                   8080,
	"inbox.domains":                 "inbox.test",
	"inbox.ttl":                     "1h",
	"inbox.subscriber_ttl":          "30m",
	"inbox.sweep_interval":          "1m",
	"stream.ring_capacity":          100,
	"stream.summary_fields":         "id,from,to,subject,timestamp,extractedCodes",
	"stream.heartbeat_interval":     "15s",
	"stream.heartbeat_timeout":      "45s",
	"stream.write_timeout":          "10s",
	"stream.queue_size":             64,
	"broadcast.backpressure":        true,
	"broadcast.max_recipients":      100,
	"broadcast.yield_batch":         50,
	"broadcast.drop_failed_clients": true,
	"cors.allowed_origins":          "*",
	"log.level":                     "info",
	"log.development":               false,
	"log.file":                      "",
	"ratelimit.rps":                 20,
	"ratelimit.burst":               40,
}

// checkUnknownKeys 拒绝配置文件中的未知键，避免拼写错误被静默忽略
func checkUnknownKeys(v *viper.Viper) error {
	var unknown []string
	for _, key := range v.AllKeys() {
		if _, ok := defaults[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown config keys: %s", strings.Join(unknown, ", "))
}

// listValue 读取列表配置。环境变量为逗号分隔的字符串，配置文件可以直接使用列表
func listValue(v *viper.Viper, key string) []string {
	switch raw := v.Get(key).(type) {
	case nil:
		return []string{}
	case string:
		return parseList(raw)
	default:
		return trimList(v.GetStringSlice(key))
	}
}

// durationValue 读取时长配置。带单位的字符串按 time.ParseDuration 解析，纯数字按秒解析
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.Get(key)
	switch val := raw.(type) {
	case time.Duration:
		return val, nil
	case string:
		val = strings.TrimSpace(val)
		if _, err := strconv.ParseFloat(val, 64); err != nil {
			return time.ParseDuration(val)
		}
		raw = val
	}

	seconds, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("invalid number of seconds %v", raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Validate 检查配置取值是否合法，任何错误都会阻止服务启动
func (c *Config) Validate() error {
	var errs []error

	if len(c.Inbox.Domains) == 0 {
		errs = append(errs, errors.New("inbox.domains must not be empty"))
	}
	if c.Inbox.TTL <= 0 {
		errs = append(errs, errors.New("inbox.ttl must be positive"))
	}
	if c.Inbox.SubscriberTTL <= 0 {
		errs = append(errs, errors.New("inbox.subscriber_ttl must be positive"))
	}
	if c.Inbox.SweepInterval <= 0 {
		errs = append(errs, errors.New("inbox.sweep_interval must be positive"))
	}
	if c.Stream.RingCapacity <= 0 {
		errs = append(errs, errors.New("stream.ring_capacity must be positive"))
	}
	if len(c.Stream.SummaryFields) == 0 {
		errs = append(errs, errors.New("stream.summary_fields must not be empty"))
	}
	for _, field := range c.Stream.SummaryFields {
		if !domain.IsSummaryField(field) {
			errs = append(errs, fmt.Errorf("stream.summary_fields: unknown field %q", field))
		}
	}
	if c.Stream.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("stream.heartbeat_interval must be positive"))
	}
	if c.Stream.HeartbeatTimeout <= c.Stream.HeartbeatInterval {
		errs = append(errs, errors.New("stream.heartbeat_timeout must be greater than stream.heartbeat_interval"))
	}
	if c.Stream.WriteTimeout <= 0 {
		errs = append(errs, errors.New("stream.write_timeout must be positive"))
	}
	if c.Stream.QueueSize <= 0 {
		errs = append(errs, errors.New("stream.queue_size must be positive"))
	}
	if c.Broadcast.MaxRecipients <= 0 {
		errs = append(errs, errors.New("broadcast.max_recipients must be positive"))
	}
	if c.Broadcast.YieldBatch <= 0 {
		errs = append(errs, errors.New("broadcast.yield_batch must be positive"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}

	return errors.Join(errs...)
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	return normalizeDomains(parseList(value))
}

func normalizeDomains(domains []string) []string {
	for i := range domains {
		domains[i] = strings.ToLower(domains[i])
	}
	return domains
}

// parseList 将逗号分隔的字符串解析为字符串切片，已去除空白字符
func parseList(value string) []string {
	return trimList(strings.Split(value, ","))
}

// trimList 去除每一项两端的空白并丢弃空项
func trimList(parts []string) []string {
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先找当前目录，再找父目录；文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
