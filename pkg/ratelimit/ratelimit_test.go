package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultAdminConfig(t *testing.T) {
	cfg := DefaultAdminConfig()
	assert.Equal(t, float64(50), cfg.Rate)
	assert.Equal(t, 100, cfg.Burst)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.MaxAge)
}

func TestNew(t *testing.T) {
	t.Run("creates limiter with config", func(t *testing.T) {
		cfg := Config{Rate: 10, Burst: 20, CleanupInterval: time.Second, MaxAge: time.Minute}
		rl := New(cfg)
		defer rl.Stop()

		assert.NotNil(t, rl)
		assert.Equal(t, float64(10), rl.Config().Rate)
		assert.Equal(t, 20, rl.Config().Burst)
	})

	t.Run("sets default cleanup interval if zero", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 20})
		defer rl.Stop()

		assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
		assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
	})
}

func TestAllow(t *testing.T) {
	t.Run("allows requests within burst limit", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 5, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow("192.168.1.1"), "request %d should be allowed", i)
		}
	})

	t.Run("blocks requests exceeding burst limit", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 3, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		for i := 0; i < 3; i++ {
			rl.Allow("192.168.1.1")
		}
		assert.False(t, rl.Allow("192.168.1.1"))
	})

	t.Run("different clients have separate limits", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		rl.Allow("192.168.1.1")
		rl.Allow("192.168.1.1")
		assert.False(t, rl.Allow("192.168.1.1"))

		assert.True(t, rl.Allow("192.168.1.2"))
		assert.True(t, rl.Allow("192.168.1.2"))
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		assert.True(t, rl.Allow("192.168.1.1"))
		assert.False(t, rl.Allow("192.168.1.1"))

		// 10 req/s means a token roughly every 100ms.
		time.Sleep(150 * time.Millisecond)
		assert.True(t, rl.Allow("192.168.1.1"))
	})

	t.Run("tracks number of clients", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 10, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		assert.Equal(t, 0, rl.Len())
		rl.Allow("192.168.1.1")
		assert.Equal(t, 1, rl.Len())
		rl.Allow("192.168.1.2")
		assert.Equal(t, 2, rl.Len())
		rl.Allow("192.168.1.1")
		assert.Equal(t, 2, rl.Len())
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 5, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		router := gin.New()
		router.Use(rl.Middleware())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		})

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i)
		}
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		router := gin.New()
		router.Use(rl.Middleware())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		})

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			router.ServeHTTP(w, req)
		}

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	})
}

func TestMiddlewareWithExclusions(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.MiddlewareWithExclusions([]string{"/livez", "/readyz"}))
	router.GET("/livez", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/debug/election", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	do := func(path string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.168.1.1:12345"
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Probes stay unthrottled no matter how often they fire.
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, do("/livez"), "probe %d should bypass the limiter", i)
	}

	// The diagnostics endpoint exhausts its single-token budget.
	assert.Equal(t, http.StatusOK, do("/debug/election"))
	assert.Equal(t, http.StatusTooManyRequests, do("/debug/election"))
}

func TestCleanupEvictsIdleClients(t *testing.T) {
	rl := New(Config{Rate: 10, Burst: 10, CleanupInterval: 10 * time.Millisecond, MaxAge: 20 * time.Millisecond})
	defer rl.Stop()

	rl.Allow("192.168.1.1")
	assert.Equal(t, 1, rl.Len())

	deadline := time.Now().Add(time.Second)
	for rl.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle client entry was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	rl := New(Config{Rate: 1000, Burst: 1000, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rl.Allow("192.168.1.1")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rl.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1})

	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
