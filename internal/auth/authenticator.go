package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"fleettrack/internal/config"
	"fleettrack/internal/store"
)

type cacheEntry struct {
	orgID     int64
	expiresAt time.Time
}

// Authenticator resolves an API key to its organization: static config
// keys first, then a local in-memory cache, then the volatile store.
type Authenticator struct {
	localCache sync.Map
	kv         store.KV
	ttl        time.Duration
	staticKeys map[string]int64
}

func NewAuthenticator(cfg *config.Config, kv store.KV) *Authenticator {
	staticKeys := make(map[string]int64, len(cfg.StaticAPIKeys))
	for k, org := range cfg.StaticAPIKeys {
		if k != "" {
			staticKeys[k] = org
		}
	}

	return &Authenticator{
		kv:         kv,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
	}
}

// Resolve returns the organization owning the key, or false for unknown
// or unreadable keys.
func (a *Authenticator) Resolve(ctx context.Context, apiKey string) (int64, bool) {
	// Level 0: static config keys
	if orgID, ok := a.staticKeys[apiKey]; ok {
		return orgID, true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.orgID, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: volatile store lookup
	val, ok, err := a.kv.Get(ctx, store.AuthKey(apiKey))
	if err != nil || !ok {
		return 0, false
	}
	orgID, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return 0, false
	}

	// Populate in-memory cache
	a.localCache.Store(apiKey, cacheEntry{
		orgID:     orgID,
		expiresAt: time.Now().Add(a.ttl),
	})

	return orgID, true
}
