package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

const transientPrefix = "transient_"

// transients are short-lived flags. go-cache answers in-process reads; the
// expiry is also written to the settings store so another process (the one
// handling deactivation, say) sees it.
type transients struct {
	client *Client
	cache  *cache.Cache
}

func newTransients(c *Client) *transients {
	return &transients{
		client: c,
		cache:  cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

func (t *transients) set(ctx context.Context, key string, ttl time.Duration) {
	expiresAt := t.client.now().Add(ttl)
	t.cache.Set(key, expiresAt, ttl)

	if err := t.client.settings.Set(ctx, transientPrefix+key, strconv.FormatInt(expiresAt.Unix(), 10)); err != nil {
		t.client.logger.Warn("Failed to persist transient", "key", key, "error", err)
	}
}

func (t *transients) has(ctx context.Context, key string) bool {
	if v, ok := t.cache.Get(key); ok {
		if expiresAt, ok := v.(time.Time); ok && t.client.now().Before(expiresAt) {
			return true
		}
	}

	raw, ok, err := t.client.settings.Get(ctx, transientPrefix+key)
	if err != nil || !ok {
		return false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}

	expiresAt := time.Unix(unix, 0)
	if !t.client.now().Before(expiresAt) {
		return false
	}
	t.cache.Set(key, expiresAt, expiresAt.Sub(t.client.now()))
	return true
}

func (t *transients) delete(ctx context.Context, key string) {
	t.cache.Delete(key)
	if err := t.client.settings.Delete(ctx, transientPrefix+key); err != nil {
		t.client.logger.Warn("Failed to delete transient", "key", key, "error", err)
	}
}
