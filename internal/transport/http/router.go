package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"tempmail/inboxcast/internal/config"
	"tempmail/inboxcast/internal/health"
	"tempmail/inboxcast/internal/middleware"
	"tempmail/inboxcast/internal/monitoring"
	"tempmail/inboxcast/internal/service"
	"tempmail/inboxcast/internal/stream"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	inboxes      *service.InboxService
	streams      *stream.Server
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	reporter     *monitoring.Reporter
	logger       *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config      *config.Config
	Inboxes     *service.InboxService
	Streams     *stream.Server
	Metrics     *monitoring.Metrics
	Health      *health.HealthChecker
	Reporter    *monitoring.Reporter
	RateLimiter *middleware.RateLimiter // 为 nil 时不限流
	Logger      *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Last-Event-ID", "Cache-Control"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		inboxes:      deps.Inboxes,
		streams:      deps.Streams,
		upgrader:     stream.NewUpgrader(deps.Config.CORS.AllowedOrigins),
		writeTimeout: deps.Config.Stream.WriteTimeout,
		reporter:     deps.Reporter,
		logger:       deps.Logger,
	}

	limit := func(c *gin.Context) { c.Next() }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Middleware()
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	router.GET("/health", handler.healthReport)
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// 收件箱
	router.GET("/inbox", limit, handler.createInbox)
	router.DELETE("/inbox/:id", handler.deleteInbox)

	// 邮件与推送
	emails := router.Group("/emails/:id")
	{
		emails.GET("", handler.listEmails)
		emails.POST("", limit, middleware.BodySizeLimit(middleware.EmailBodyLimit), handler.deliverEmail)
		emails.GET("/stream", handler.streamSSE)
		emails.GET("/ws", handler.streamWebSocket)
	}

	return router
}

// healthReport 运行状态
// @Summary 运行状态
// @Description 返回活跃收件箱、连接、订阅表、回放缓冲区计数以及 TTL 与广播配置
// @Tags System
// @Produce json
// @Success 200 {object} Response{data=monitoring.HealthReport}
// @Router /health [get]
func (h *Handler) healthReport(c *gin.Context) {
	Success(c, h.reporter.Report())
}
