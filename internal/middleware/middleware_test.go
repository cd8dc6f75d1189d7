package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"tempmail/inboxcast/internal/config"
	"tempmail/inboxcast/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter(t *testing.T) {
	t.Run("超过突发容量返回429", func(t *testing.T) {
		var blocked []string
		rl := NewRateLimiter(config.RateLimitConfig{RPS: 1, Burst: 2}, func(endpoint string) {
			blocked = append(blocked, endpoint)
		})

		r := gin.New()
		r.GET("/inbox", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/inbox", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			r.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}

		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
		assert.Equal(t, []string{"/inbox"}, blocked)
	})

	t.Run("不同IP独立计数", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{RPS: 1, Burst: 1}, nil)
		r := gin.New()
		r.GET("/inbox", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

		for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/inbox", nil)
			req.RemoteAddr = addr
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("RPS为0时关闭限流", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{}, nil)
		r := gin.New()
		r.GET("/inbox", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/inbox", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
		assert.Equal(t, 0, rl.Len())
	})

	t.Run("清理闲置客户端", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		rl := NewRateLimiter(config.RateLimitConfig{RPS: 1, Burst: 1}, nil)
		rl.now = func() time.Time { return now }

		rl.get("10.0.0.1")
		now = now.Add(5 * time.Minute)
		rl.get("10.0.0.2")
		now = now.Add(6 * time.Minute)

		assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
		assert.Equal(t, 1, rl.Len())
	})
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/emails/:id", BodySizeLimit(16), func(c *gin.Context) { c.Status(http.StatusCreated) })

	t.Run("请求体未超限", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/emails/x", strings.NewReader(`{"auto":true}`)))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "16", w.Header().Get("X-Max-Body-Size"))
	})

	t.Run("请求体超限返回413", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/emails/x", strings.NewReader(strings.Repeat("a", 64))))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/swagger/*any", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestPanicRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics(nil)
	mm := NewMonitoringMiddleware(metrics, zap.NewNop())

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics(), RequestLogger(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
