// Package prefs loads per-user preference defaults (currency, theme) from
// the internal preference services, discovered through Consul and cached in
// Redis.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ledgerly/authflow/internal/shared/cache"
	"github.com/ledgerly/authflow/internal/shared/errors"
	"github.com/ledgerly/authflow/internal/shared/logger"
	"github.com/ledgerly/authflow/internal/shared/metrics"
)

// Service names as registered in Consul.
const (
	CurrencyService = "ledgerly-currency"
	ThemeService    = "ledgerly-theme"
)

const cacheKeyPrefix = "prefs:"

// Config holds preference loader configuration.
type Config struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default preference loader configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL: 15 * time.Minute,
		Timeout:  3 * time.Second,
	}
}

// Resolver turns a service name into a reachable address. The Consul client
// in internal/discovery is the production implementation.
type Resolver interface {
	Resolve(service string) (string, error)
	Invalidate(service string)
}

// Loader resolves preference services through Consul and caches responses in
// Redis. A nil cache disables caching; lookups still work.
type Loader struct {
	discovery Resolver
	cache     *cache.Client
	http      *http.Client
	metrics   *metrics.Metrics
	log       *logger.Logger
	cacheTTL  time.Duration
}

// NewLoader creates a preference loader.
func NewLoader(cfg Config, disc Resolver, c *cache.Client, m *metrics.Metrics, log *logger.Logger) *Loader {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 15 * time.Minute
	}

	return &Loader{
		discovery: disc,
		cache:     c,
		http:      &http.Client{Timeout: timeout},
		metrics:   m,
		log:       log.WithComponent("prefs"),
		cacheTTL:  cacheTTL,
	}
}

// Currency returns the default currency for a user, typically derived from
// the sign-up region.
func (l *Loader) Currency(ctx context.Context, userID string) (string, error) {
	return l.load(ctx, CurrencyService, "currency", userID)
}

// Theme returns the preferred theme for a user.
func (l *Loader) Theme(ctx context.Context, userID string) (string, error) {
	return l.load(ctx, ThemeService, "theme", userID)
}

// SweepCache deletes cached preference entries that have no expiry set.
// Entries written before a TTL was configured would otherwise live forever.
func (l *Loader) SweepCache(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}

	keys, err := l.cache.ScanKeys(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scanning preference cache: %w", err)
	}

	var stale []string
	for _, key := range keys {
		ttl, err := l.cache.TTL(ctx, key)
		if err != nil {
			continue
		}
		if ttl < 0 {
			stale = append(stale, key)
		}
	}

	if len(stale) == 0 {
		return nil
	}

	if err := l.cache.Delete(ctx, stale...); err != nil {
		return fmt.Errorf("deleting stale preference entries: %w", err)
	}

	l.log.Info("swept stale preference cache entries", "count", len(stale))
	return nil
}

type prefResponse struct {
	Value string `json:"value"`
}

func (l *Loader) load(ctx context.Context, service, kind, userID string) (string, error) {
	cacheKey := fmt.Sprintf("%s%s:%s", cacheKeyPrefix, kind, userID)

	if l.cache != nil {
		var cached prefResponse
		if err := l.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			l.metrics.PrefCacheHit()
			return cached.Value, nil
		}
		l.metrics.PrefCacheMiss()
	}

	value, err := l.fetch(ctx, service, kind, userID)
	if err != nil {
		l.metrics.ObservePrefLoad(service, metrics.OutcomeError)
		return "", err
	}
	l.metrics.ObservePrefLoad(service, metrics.OutcomeOK)

	if l.cache != nil {
		if err := l.cache.SetJSON(ctx, cacheKey, prefResponse{Value: value}, l.cacheTTL); err != nil {
			l.log.WithError(err).Warn("caching preference failed", "key", cacheKey)
		}
	}

	return value, nil
}

func (l *Loader) fetch(ctx context.Context, service, kind, userID string) (string, error) {
	addr, err := l.discovery.Resolve(service)
	if err != nil {
		return "", errors.New(errors.CodePrefsUnavailable, fmt.Sprintf("resolving %s", service)).Wrap(err)
	}

	url := fmt.Sprintf("http://%s/v1/%s/%s", addr, kind, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.InternalWrap("building preference request", err)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		// A stale Consul entry may point at a dead instance; drop it so
		// the next call re-resolves.
		l.discovery.Invalidate(service)
		return "", errors.New(errors.CodePrefsUnavailable, fmt.Sprintf("%s unreachable", service)).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errors.NotFound(fmt.Sprintf("no %s preference for user", kind))
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.CodePrefsUnavailable, fmt.Sprintf("%s returned %d", service, resp.StatusCode))
	}

	var payload prefResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.InternalWrap("decoding preference response", err)
	}

	return payload.Value, nil
}
