package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Port 1 on loopback refuses connections, so every command fails fast.
func deadRedis(t *testing.T) *RedisSource {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSource(rdb, "short:")
}

func TestRedisSource_BadCursor(t *testing.T) {
	if _, err := deadRedis(t).List(context.Background(), "not-a-number", 10); err == nil {
		t.Fatalf("expected cursor parse error")
	}
}

func TestRedisSource_Unreachable(t *testing.T) {
	src := deadRedis(t)
	if _, err := src.List(context.Background(), "", 10); err == nil {
		t.Fatalf("expected scan error")
	}
	if _, ok, err := src.Get(context.Background(), "promo"); err == nil || ok {
		t.Fatalf("Get = ok %v err %v, want connection error", ok, err)
	}
}

func TestDialRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := DialRedis(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestScanPattern_EscapesGlob(t *testing.T) {
	cases := map[string]string{
		"":         "*",
		"short:":   "short:*",
		"a*b?":     `a\*b\?*`,
		"[tag]:":   `\[tag\]:*`,
		`back\sl:`: `back\\sl:*`,
	}
	for prefix, want := range cases {
		if got := scanPattern(prefix); got != want {
			t.Errorf("scanPattern(%q) = %q, want %q", prefix, got, want)
		}
	}
	if src := NewRedisSource(nil, "v1*:"); src.match != `v1\*:*` {
		t.Errorf("match = %q", src.match)
	}
}
