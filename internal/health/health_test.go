package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSweeper struct {
	last time.Time
}

func (f *fakeSweeper) LastSweep() time.Time { return f.last }

type fakeHub struct {
	closed bool
}

func (f *fakeHub) Closed() bool { return f.closed }

func TestSweeperCheck(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }
	sweeper := &fakeSweeper{}
	check := SweeperCheck(sweeper, time.Minute, start, clock)

	t.Run("启动宽限期内未清理", func(t *testing.T) {
		now = start.Add(2 * time.Minute)
		assert.NoError(t, check())
	})

	t.Run("宽限期后仍未清理", func(t *testing.T) {
		now = start.Add(4 * time.Minute)
		assert.Error(t, check())
	})

	t.Run("最近清理过", func(t *testing.T) {
		sweeper.last = start.Add(3 * time.Minute)
		now = start.Add(4 * time.Minute)
		assert.NoError(t, check())
	})

	t.Run("清理停滞", func(t *testing.T) {
		sweeper.last = start.Add(3 * time.Minute)
		now = start.Add(7 * time.Minute)
		err := check()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "last sweep")
	})
}

func TestHealthChecker(t *testing.T) {
	t.Run("全部检查通过", func(t *testing.T) {
		hc := NewHealthChecker(&fakeSweeper{}, &fakeHub{}, Options{SweepInterval: time.Minute}, zap.NewNop())

		results := hc.CheckHealth()
		assert.Equal(t, map[string]string{"hub": "OK", "sweeper": "OK"}, results)

		rec := httptest.NewRecorder()
		hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Hub关闭后不再就绪", func(t *testing.T) {
		hub := &fakeHub{}
		hc := NewHealthChecker(&fakeSweeper{}, hub, Options{SweepInterval: time.Minute}, zap.NewNop())
		hub.closed = true

		results := hc.CheckHealth()
		assert.Contains(t, results["hub"], "ERROR")

		rec := httptest.NewRecorder()
		hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
