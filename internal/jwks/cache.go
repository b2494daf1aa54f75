package jwks

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/ebo-bff/internal/log"
)

// Cache hands out one KeySet per JWKS URL and refreshes all of them in the
// background.
type Cache struct {
	opts []Option
	ttl  time.Duration

	mu   sync.Mutex
	sets map[string]*KeySet

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCache creates a cache whose key sets share ttl and opts.
func NewCache(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		opts: append([]Option{WithTTL(ttl)}, opts...),
		ttl:  ttl,
		sets: make(map[string]*KeySet),
	}
}

// KeySet returns the key set for url, creating it on first use.
func (c *Cache) KeySet(url string) *KeySet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ks, ok := c.sets[url]; ok {
		return ks
	}
	ks := NewKeySet(url, c.opts...)
	c.sets[url] = ks
	return ks
}

func (c *Cache) snapshot() []*KeySet {
	c.mu.Lock()
	defer c.mu.Unlock()

	sets := make([]*KeySet, 0, len(c.sets))
	for _, ks := range c.sets {
		sets = append(sets, ks)
	}
	return sets
}

// Start refreshes every key set immediately and then once per TTL until
// Stop is called or ctx is cancelled.
func (c *Cache) Start(ctx context.Context) {
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})

	log.LogInfoWithFields("jwks", "Starting key set refresher", map[string]any{
		"interval": c.ttl.String(),
	})

	go c.run(ctx)
}

// Stop ends the background refresh loop and waits for it to exit.
func (c *Cache) Stop() {
	if c.stopChan == nil {
		return
	}
	close(c.stopChan)
	<-c.doneChan
	c.stopChan = nil
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.doneChan)

	// Refresh slightly ahead of expiry so lookups rarely block on a fetch.
	interval := c.ttl - c.ttl/10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.refreshAll(ctx)

	for {
		select {
		case <-ticker.C:
			c.refreshAll(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) refreshAll(ctx context.Context) {
	for _, ks := range c.snapshot() {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := ks.Refresh(fetchCtx); err != nil {
			log.LogWarnWithFields("jwks", "Background key set refresh failed", map[string]any{
				"url":   ks.URL(),
				"error": err.Error(),
			})
		}
		cancel()
	}
}
