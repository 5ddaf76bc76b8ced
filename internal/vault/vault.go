// internal/vault/vault.go
//
// Vault client wrapper for shortmap.
//
// Context
// -------
// Configuration values written as `vault:<mount>/<path>#<key>` are resolved
// through this client before the config tree is unmarshalled.  The client
// wraps the HashiCorp Vault SDK with KV-v2 reads, a per-key TTL cache, and
// a background token-renewal loop built on the SDK's LifetimeWatcher.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, zap.L())           // only when VAULT_ADDR is set.
//  2. cfg, err := config.Load(ctx, cli)             // cli satisfies SecretGetter.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

/*──────────────────────────── client ─────────────────────────────────────*/

// kvReader is the slice of the KV-v2 API the client needs.
type kvReader func(ctx context.Context, mount, rel string) (map[string]any, error)

// Client is safe for concurrent use.  Zero value is invalid.
type Client struct {
	api  *vault.Client
	read kvReader
	log  *zap.Logger

	mu    sync.RWMutex
	cache map[string]cached // path#key → value + expiry
	group singleflight.Group
	now   func() time.Time
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a client from VAULT_ADDR and VAULT_TOKEN and starts token
// renewal until ctx is cancelled.
func New(ctx context.Context, log *zap.Logger) (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}

	c := newClient(func(ctx context.Context, mount, rel string) (map[string]any, error) {
		sec, err := api.KVv2(mount).Get(ctx, rel)
		if err != nil {
			return nil, err
		}
		return sec.Data, nil
	}, log)
	c.api = api

	go c.renewLoop(ctx)
	return c, nil
}

func newClient(read kvReader, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		read:  read,
		log:   log,
		cache: make(map[string]cached),
		now:   time.Now,
	}
}

// GetKV fetches one key from a KV-v2 secret.  With ttl > 0 the value is
// cached; concurrent misses for the same key share one request.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}
	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.mu.RLock()
		cv, ok := c.cache[canonical]
		c.mu.RUnlock()
		if ok && c.now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	v, err, _ := c.group.Do(canonical, func() (any, error) {
		mount, rel := splitMount(secretPath)
		data, err := c.read(ctx, mount, rel)
		if err != nil {
			return "", fmt.Errorf("vault get %s: %w", secretPath, err)
		}
		raw, ok := data[key]
		if !ok {
			return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
		}
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("value at %s is not a string", canonical)
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	val := v.(string)

	if ttl > 0 {
		c.mu.Lock()
		c.cache[canonical] = cached{val: val, exp: c.now().Add(ttl)}
		c.mu.Unlock()
	}
	return val, nil
}

/*──────────────────────────── token renewal ──────────────────────────────*/

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			c.log.Warn("vault token renew failed", zap.Error(err))
			backoff(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.log.Info("vault token not renewable")
			return
		}

		w, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
		if err != nil {
			c.log.Warn("vault watcher init failed", zap.Error(err))
			backoff(ctx, 30*time.Second)
			continue
		}
		go w.Start()
		c.watch(ctx, w)
		w.Stop()
		backoff(ctx, 15*time.Second)
	}
}

func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				c.log.Warn("vault token renewal stopped", zap.Error(err))
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Debug("vault token renewed", zap.Int("ttl_seconds", ev.Secret.Auth.LeaseDuration))
			}
		}
	}
}

/*──────────────────────────── helpers ────────────────────────────────────*/

// splitMount turns "secret/shortmap/db" into ("secret", "shortmap/db").
func splitMount(p string) (mount, rel string) {
	mount, rel, _ = strings.Cut(p, "/")
	return mount, rel
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
