package swap

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablezap/stablezap/pkg/models"
)

// DefaultPriceTTL is how long a quoted price stays usable
const DefaultPriceTTL = 5 * time.Minute

// PriceCache keeps the last quoted price of each output token. Prices are
// input units per output unit, both in smallest units, and are informational
// only: quotes themselves are never cached.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[common.Address]cachedPrice
	ttl    time.Duration
	now    func() time.Time
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewPriceCache creates a new price cache
func NewPriceCache(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{
		prices: make(map[common.Address]cachedPrice),
		ttl:    ttl,
		now:    time.Now,
	}
}

// LastPrice returns the cached price of token if it is still fresh
func (c *PriceCache) LastPrice(token common.Address) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.prices[token]
	if !ok || c.now().Sub(cached.timestamp) > c.ttl {
		return 0, false
	}
	return cached.price, true
}

// Set stores a price with the current timestamp
func (c *PriceCache) Set(token common.Address, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[token] = cachedPrice{price: price, timestamp: c.now()}
}

// Record derives the price of the quote's output token
func (c *PriceCache) Record(quote *models.Quote) {
	out := quote.OutAmount()
	if quote.InAmount == nil || out.Sign() <= 0 {
		return
	}
	price, _ := new(big.Float).Quo(new(big.Float).SetInt(quote.InAmount), new(big.Float).SetInt(out)).Float64()
	c.Set(quote.OutputToken, price)
}

// Clear removes all cached entries
func (c *PriceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = make(map[common.Address]cachedPrice)
}

// Len returns the number of cached entries, fresh or not
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}
