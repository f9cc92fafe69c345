// Package discovery provides Consul-based service discovery for the
// preference services.
package discovery

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

// Config holds Consul client configuration.
type Config struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	Datacenter string `mapstructure:"datacenter"`
}

// Client wraps the Consul API client for service discovery.
type Client struct {
	client *api.Client

	mu    sync.RWMutex
	cache map[string]cachedEndpoint
	ttl   time.Duration
}

type cachedEndpoint struct {
	address   string
	expiresAt time.Time
}

// NewClient creates a new Consul client wrapper.
func NewClient(cfg Config) (*Client, error) {
	consulCfg := api.DefaultConfig()
	consulCfg.Address = cfg.Address
	if cfg.Token != "" {
		consulCfg.Token = cfg.Token
	}
	if cfg.Datacenter != "" {
		consulCfg.Datacenter = cfg.Datacenter
	}

	client, err := api.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}

	// Verify connection
	if _, err := client.Status().Leader(); err != nil {
		return nil, fmt.Errorf("connecting to consul: %w", err)
	}

	return &Client{
		client: client,
		cache:  make(map[string]cachedEndpoint),
		ttl:    30 * time.Second,
	}, nil
}

// Resolve returns a healthy address ("host:port") for a registered service.
// Results are cached briefly to avoid hammering the catalog; when multiple
// healthy instances exist one is picked at random.
func (c *Client) Resolve(service string) (string, error) {
	c.mu.RLock()
	if cached, ok := c.cache[service]; ok && time.Now().Before(cached.expiresAt) {
		c.mu.RUnlock()
		return cached.address, nil
	}
	c.mu.RUnlock()

	entries, _, err := c.client.Health().Service(service, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("querying consul for %s: %w", service, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances of %s", service)
	}

	entry := entries[rand.Intn(len(entries))]
	addr := entry.Service.Address
	if addr == "" {
		addr = entry.Node.Address
	}
	address := fmt.Sprintf("%s:%d", addr, entry.Service.Port)

	c.mu.Lock()
	c.cache[service] = cachedEndpoint{
		address:   address,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return address, nil
}

// Invalidate drops a cached address, forcing the next Resolve to hit Consul.
func (c *Client) Invalidate(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, service)
}
