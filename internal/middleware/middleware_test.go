package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/olyamironova/quote-engine/internal/adapter/cache"
	"github.com/olyamironova/quote-engine/internal/adapter/in_memory"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/ratelimit"
)

func newRouter(l *ratelimit.Limiter) *gin.Engine {
	return newRouterTrusting(l, true)
}

func newRouterTrusting(l *ratelimit.Limiter, trustHeader bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		panic(err)
	}
	log := logger.Discard()
	r.Use(RequestLogger(log), RateLimit(l, trustHeader, log))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r http.Handler, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if client != "" {
		req.Header.Set(ClientIDHeader, client)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitRejectsFourthRequest(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCache(mr.Addr(), "", 0, logger.Discard())
	defer rc.Close()
	r := newRouter(ratelimit.New(rc, 3, 60*time.Second))

	for i, want := range []int{200, 200, 200, 429} {
		w := get(r, "client-1")
		if w.Code != want {
			t.Fatalf("request %d: status %d, want %d", i+1, w.Code, want)
		}
		if want == 429 && !strings.Contains(w.Body.String(), ratelimit.RejectMessage) {
			t.Fatalf("unexpected body %s", w.Body.String())
		}
	}

	mr.FastForward(61 * time.Second)
	if w := get(r, "client-1"); w.Code != http.StatusOK {
		t.Fatalf("after window: status %d", w.Code)
	}
}

func TestRateLimitHeaders(t *testing.T) {
	r := newRouter(ratelimit.New(in_memory.NewCache(), 5, time.Minute))
	w := get(r, "h")
	if w.Header().Get("X-RateLimit-Limit") != "5" || w.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Fatalf("headers = %v", w.Header())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id")
	}
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	r := newRouter(ratelimit.New(in_memory.NewCache(), 1, time.Minute))
	if w := get(r, ""); w.Code != http.StatusOK {
		t.Fatalf("first anonymous request: %d", w.Code)
	}
	if w := get(r, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second anonymous request from same address: %d", w.Code)
	}
	if w := get(r, "named"); w.Code != http.StatusOK {
		t.Fatalf("named client shares the anonymous window: %d", w.Code)
	}
}

func TestRateLimitCacheDownReturns500(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCache(mr.Addr(), "", 0, logger.Discard())
	defer rc.Close()
	r := newRouter(ratelimit.New(rc, 3, time.Minute))

	mr.Close()
	if w := get(r, "c"); w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", w.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newRouter(ratelimit.New(in_memory.NewCache(), 5, time.Minute))
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("request id = %q", w.Header().Get(RequestIDHeader))
	}
}

func TestRotatingClientIDDoesNotResetWindow(t *testing.T) {
	r := newRouterTrusting(ratelimit.New(in_memory.NewCache(), 3, time.Minute), false)

	admitted := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set(ClientIDHeader, fmt.Sprintf("rotating-%d", i))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted %d of 20 requests from one address, want 3", admitted)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "198.51.100.2:40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("other address: status %d", w.Code)
	}
}
