package migrate

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads legacy entries from Redis.  SCAN provides the cursor;
// keys may carry a namespace prefix that is stripped before import.
type RedisSource struct {
	rdb    redis.UniversalClient
	prefix string
	match  string
}

// NewRedisSource wraps an existing client.  prefix may be empty.
func NewRedisSource(rdb redis.UniversalClient, prefix string) *RedisSource {
	return &RedisSource{rdb: rdb, prefix: prefix, match: scanPattern(prefix)}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// scanPattern returns the SCAN MATCH glob for keys starting with prefix.
// Glob metacharacters in prefix match literally.
func scanPattern(prefix string) string {
	return globEscaper.Replace(prefix) + "*"
}

// DialRedis connects and pings.  The caller owns the returned client.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// List runs one SCAN step.  Redis signals the last page with cursor 0.
func (s *RedisSource) List(ctx context.Context, cursor string, limit int) (Page, error) {
	var cur uint64
	if cursor != "" {
		c, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return Page{}, err
		}
		cur = c
	}

	keys, next, err := s.rdb.Scan(ctx, cur, s.match, int64(limit)).Result()
	if err != nil {
		return Page{}, err
	}

	page := Page{Keys: make([]string, 0, len(keys))}
	for _, k := range keys {
		page.Keys = append(page.Keys, strings.TrimPrefix(k, s.prefix))
	}
	if next != 0 {
		page.Cursor = strconv.FormatUint(next, 10)
	}
	return page, nil
}

// Get fetches one value.  Non-string keys surface as an error for that
// entry only.
func (s *RedisSource) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
