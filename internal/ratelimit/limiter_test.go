package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/whisper/dm-server/internal/apierror"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client), mr
}

func TestAllow_WindowAndReset(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1", rule)
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "u1", rule); ok {
		t.Fatal("expected 4th request to be limited")
	}
	if ok, _ := l.Allow(ctx, "u2", rule); !ok {
		t.Fatal("expected other identifier to be unaffected")
	}

	if n, _ := l.Remaining(ctx, "u1", rule); n != 0 {
		t.Errorf("expected 0 remaining, got %d", n)
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := l.Allow(ctx, "u1", rule); !ok {
		t.Fatal("expected window to reset")
	}
	if n, _ := l.Remaining(ctx, "u1", rule); n != 2 {
		t.Errorf("expected 2 remaining, got %d", n)
	}
}

func TestCheck_ReturnsDomainError(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 1, Window: time.Minute}

	if err := l.Check(ctx, "u1", rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Check(ctx, "u1", rule); !errors.Is(err, apierror.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestNilLimiterAllowsAll(t *testing.T) {
	var l *Limiter
	if err := l.Check(context.Background(), "x", RuleMessage); err != nil {
		t.Fatalf("expected nil limiter to allow, got %v", err)
	}
}

func TestAllow_FailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	ok, err := l.Allow(context.Background(), "u1", RuleMessage)
	if !ok {
		t.Fatal("expected fail open when Redis is down")
	}
	if err == nil {
		t.Error("expected the Redis error to be reported")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := ClientIP(r); got != "10.0.0.7" {
		t.Fatalf("peer address: got %q", got)
	}
	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded address: got %q", got)
	}
}
