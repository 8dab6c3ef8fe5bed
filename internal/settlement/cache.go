package settlement

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// TerminalCache remembers settled results by trade id. Terminal states are
// absorbing, so an entry never goes stale and needs no TTL.
type TerminalCache struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewTerminalCache creates a cache holding up to maxEntries results.
func NewTerminalCache(maxEntries int64, logger *zap.Logger) (*TerminalCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10, // 10x max items, per ristretto guidance
		MaxCost:     maxEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create terminal cache: %w", err)
	}
	return &TerminalCache{cache: cache, logger: logger}, nil
}

// Get returns a copy of the cached result for tradeID.
func (c *TerminalCache) Get(tradeID string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	value, found := c.cache.Get(tradeID)
	if !found {
		TerminalCacheMisses.Inc()
		return Result{}, false
	}
	res, ok := value.(Result)
	if !ok {
		TerminalCacheMisses.Inc()
		return Result{}, false
	}
	TerminalCacheHits.Inc()
	c.logger.Debug("terminal-cache-hit", zap.String("trade-id", tradeID))
	return res, true
}

// Put stores a terminal result. Pending trades are never cached.
func (c *TerminalCache) Put(res Result) {
	if c == nil || !res.Trade.Status.IsTerminal() {
		return
	}
	// Cost = 1 (we're counting items, not bytes)
	c.cache.Set(res.Trade.ID, res, 1)
}

// Wait blocks until buffered writes are applied.
func (c *TerminalCache) Wait() {
	if c != nil {
		c.cache.Wait()
	}
}

// Close stops the cache's background goroutines.
func (c *TerminalCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}
