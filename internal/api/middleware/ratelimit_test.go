package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func rateLimitRouter(t *testing.T, rate, burst float64) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	limiter := ratelimit.NewRedisLimiter(rdb, "test:ratelimit:", rate, burst)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := gin.New()
	r.Use(RateLimit(limiter, logger))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return r, mr
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	r, _ := rateLimitRouter(t, 1, 5)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d within burst should pass, got %d", i+1, w.Code)
		}
	}
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	r, _ := rateLimitRouter(t, 1, 2)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/ping", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst exhausted, got %d", last.Code)
	}

	seconds, err := strconv.Atoi(last.Header().Get("Retry-After"))
	if err != nil || seconds < 1 {
		t.Fatalf("expected Retry-After of at least 1s, got %q", last.Header().Get("Retry-After"))
	}

	var env struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(last.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Success || env.Message != "too many requests" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestRateLimit_FailsOpenWhenRedisDown(t *testing.T) {
	r, mr := rateLimitRouter(t, 1, 1)
	mr.Close()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("limiter errors must not block requests, got %d", w.Code)
	}
}
