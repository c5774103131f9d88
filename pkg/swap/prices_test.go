package swap

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/testutil"
)

func TestPriceCache(t *testing.T) {
	token := testutil.GenerateAddress()

	t.Run("Set and LastPrice", func(t *testing.T) {
		cache := NewPriceCache(time.Minute)
		cache.Set(token, 2.5)

		price, ok := cache.LastPrice(token)
		assert.True(t, ok)
		assert.Equal(t, 2.5, price)

		_, ok = cache.LastPrice(testutil.GenerateAddress())
		assert.False(t, ok)
	})

	t.Run("TTL expiration", func(t *testing.T) {
		now := time.Now()
		cache := NewPriceCache(time.Minute)
		cache.now = func() time.Time { return now }
		cache.Set(token, 2.5)

		now = now.Add(2 * time.Minute)
		_, ok := cache.LastPrice(token)
		assert.False(t, ok)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("Record", func(t *testing.T) {
		cache := NewPriceCache(0)
		cache.Record(&models.Quote{OutputToken: token, InAmount: big.NewInt(300), OutAmounts: []*big.Int{big.NewInt(200)}})

		price, ok := cache.LastPrice(token)
		require.True(t, ok)
		assert.InDelta(t, 1.5, price, 1e-12)

		cache.Record(&models.Quote{OutputToken: token, InAmount: big.NewInt(300)})
		price, _ = cache.LastPrice(token)
		assert.InDelta(t, 1.5, price, 1e-12, "empty quotes are ignored")
	})

	t.Run("Clear", func(t *testing.T) {
		cache := NewPriceCache(time.Minute)
		cache.Set(token, 1)
		cache.Clear()
		assert.Equal(t, 0, cache.Len())
	})
}

func TestEngineRecordsAcceptedQuotes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, map[string]interface{}{"pathId": "p1", "outAmounts": []string{"5"}}, 10)
	prices := NewPriceCache(time.Minute)
	f.engine.SetPriceCache(prices)

	_, err := f.engine.Quote(ctx, f.request())
	require.NoError(t, err)
	price, ok := prices.LastPrice(f.out)
	require.True(t, ok)
	assert.InDelta(t, 2e7, price, 1e-6)

	rejected := newEngineFixture(t, map[string]interface{}{"pathId": "p2", "outAmounts": []string{"0"}}, 10)
	rejected.engine.SetPriceCache(prices)
	_, err = rejected.engine.Quote(ctx, rejected.request())
	require.Error(t, err)
	_, ok = prices.LastPrice(rejected.out)
	assert.False(t, ok)
}
