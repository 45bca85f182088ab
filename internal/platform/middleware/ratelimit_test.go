package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carebook/booking/internal/platform/auth"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newLimited(cfg RateLimitConfig) (echo.HandlerFunc, *fakeNow, *limiter) {
	clk := &fakeNow{t: time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)}
	l := newLimiter(cfg, clk.now)
	return rateLimit(l)(okHandler), clk, l
}

func callAs(h echo.HandlerFunc, userID string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, []string{auth.RolePatient}))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	h, _, _ := newLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		rec, err := callAs(h, "patient-1")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec, err := callAs(h, "patient-1")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_Refills(t *testing.T) {
	h, clk, _ := newLimited(RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1})

	if _, err := callAs(h, "patient-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := callAs(h, "patient-1"); err == nil {
		t.Fatal("expected rejection before refill")
	}
	clk.advance(500 * time.Millisecond)
	if _, err := callAs(h, "patient-1"); err != nil {
		t.Errorf("expected a token after refill: %v", err)
	}
}

func TestRateLimit_PerCallerIsolation(t *testing.T) {
	h, _, _ := newLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := callAs(h, "patient-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := callAs(h, "patient-2"); err != nil {
		t.Errorf("another caller should have its own bucket: %v", err)
	}
	if _, err := callAs(h, ""); err != nil {
		t.Errorf("anonymous caller keyed by IP: %v", err)
	}
}

func TestRateLimit_SweepsIdleBuckets(t *testing.T) {
	h, clk, l := newLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})

	for _, id := range []string{"a", "b", "c"} {
		if _, err := callAs(h, id); err != nil {
			t.Fatal(err)
		}
	}
	clk.advance(2 * time.Minute)
	if _, err := callAs(h, "d"); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("expected idle buckets to be swept, %d remain", n)
	}
}

func TestTokenBucket_ZeroRate(t *testing.T) {
	now := time.Now()
	b := newTokenBucket(0, 1, now)
	if ok, _ := b.take(now); !ok {
		t.Fatal("first token should be available")
	}
	if ok, retry := b.take(now); ok || retry != 1 {
		t.Errorf("take = %v, %d", ok, retry)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
