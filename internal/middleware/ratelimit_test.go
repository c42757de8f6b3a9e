package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		LoginRate:       1,
		LoginBurst:      3,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID int64, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.RemoteAddr = remoteAddr
	if userID != 0 {
		req = req.WithContext(ContextWithPrincipal(req.Context(), &model.User{ID: userID}))
	}
	return req
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := NewRateLimiterConfig(120, 20)
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.LoginBurst != 20 {
		t.Errorf("login burst = %d", cfg.LoginBurst)
	}
}

func TestGeneralMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(7, "192.0.2.1:1234"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(7, "192.0.2.1:1234"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	body := decodeEnvelope(t, w)
	if body["message"] != MessageTooManyRequests || body["error"] != model.ErrCodeRateLimited {
		t.Errorf("body = %v", body)
	}
}

// ユーザーごとに独立して制限する。同じIPでも別ユーザーは影響を受けない。
func TestGeneralMiddleware_PerPrincipal(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs(7, "192.0.2.1:1234"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(9, "192.0.2.1:1234"))
	if w.Code != http.StatusOK {
		t.Errorf("other user: status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestLoginMiddleware_PerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.LoginMiddleware()(okHandler())

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(0, "198.51.100.7:5555"))
		codes = append(codes, w.Code)
	}
	if codes[2] != http.StatusOK || codes[3] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want burst of 3 then 429", codes)
	}

	// 別のIPは影響を受けない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(0, "198.51.100.8:5555"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", w.Code)
	}

	// ログインの制限はAPI全般の制限と独立している
	if rl.GeneralLimiterCount() != 0 || rl.LoginLimiterCount() != 2 {
		t.Errorf("counts = general %d, login %d", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(7, "192.0.2.1:1"))
	rl.LoginMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(0, "192.0.2.1:1"))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 {
		t.Error("fresh entries should survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.LoginLimiterCount() != 0 {
		t.Errorf("stale entries should be evicted: general %d, login %d", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 1000
	rl := NewRateLimiter(cfg)
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), requestAs(id%5+1, "192.0.2.1:1"))
		}(int64(i))
	}
	wg.Wait()

	if rl.GeneralLimiterCount() != 5 {
		t.Errorf("GeneralLimiterCount() = %d, want 5", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
