package swap

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/circuitbreaker"
	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/testutil"
	"github.com/stablezap/stablezap/pkg/txerr"
)

const routerAddress = "0x19cEeAd7105607Cd444F5ad10dd51356436095a1"

type fakeAggregator struct {
	t          *testing.T
	quote      map[string]interface{}
	status     int
	quoteHits  atomic.Int32
	assembles  atomic.Int32
	lastQuote  QuoteRequestBody
	lastPathID string
}

func (f *fakeAggregator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(quotePath, func(w http.ResponseWriter, r *http.Request) {
		f.quoteHits.Add(1)
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastQuote))
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"detail":"boom"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(f.quote)
	})
	mux.HandleFunc(assemblePath, func(w http.ResponseWriter, r *http.Request) {
		f.assembles.Add(1)
		var body AssembleRequestBody
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.lastPathID = body.PathID
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction": map[string]interface{}{"to": routerAddress, "data": "0x83bd37f9", "value": "0"},
		})
	})
	return mux
}

type engineFixture struct {
	engine *Engine
	agg    *fakeAggregator
	chain  *testutil.FakeChain
	user   common.Address
	in     common.Address
	out    common.Address
}

func newEngineFixture(t *testing.T, quote map[string]interface{}, rateLimit int) *engineFixture {
	agg := &fakeAggregator{t: t, quote: quote}
	server := httptest.NewServer(agg.handler())
	t.Cleanup(server.Close)

	log := &logger.EmptyLogger{}
	chain := testutil.NewFakeChain()
	breaker := circuitbreaker.NewCircuitBreaker("aggregator", true, 2, time.Minute, time.Minute, log)
	engine := NewEngine(
		NewClient(server.URL, time.Second, log),
		NewLimiter(rateLimit),
		breaker,
		chain,
		Config{ChainID: 8453, DefaultSlippage: 0.5, MaxSlippage: 3, Timeout: 2 * time.Second},
		log,
	)

	return &engineFixture{
		engine: engine,
		agg:    agg,
		chain:  chain,
		user:   testutil.GenerateAddress(),
		in:     testutil.GenerateAddress(),
		out:    testutil.GenerateAddress(),
	}
}

func (f *engineFixture) request() QuoteRequest {
	return QuoteRequest{InputToken: f.in, OutputToken: f.out, InputAmount: testutil.USDC(100), UserAddress: f.user}
}

func TestQuote(t *testing.T) {
	ctx := context.Background()

	t.Run("Embedded transaction", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{
			"pathId":      "p1",
			"outAmounts":  []string{"41000000000000000"},
			"priceImpact": -0.12,
			"gasEstimate": 210000,
			"transaction": map[string]interface{}{"to": routerAddress, "data": "0xdeadbeef", "value": "0"},
		}, 10)

		quote, err := f.engine.Quote(ctx, f.request())
		require.NoError(t, err)
		assert.Equal(t, "p1", quote.PathID)
		assert.InDelta(t, 0.12, quote.PriceImpactPct, 1e-9)
		assert.Equal(t, common.HexToAddress(routerAddress), quote.Transaction.To)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, quote.Transaction.Data)
		assert.Equal(t, int32(0), f.agg.assembles.Load())

		// request shape
		assert.Equal(t, int64(8453), f.agg.lastQuote.ChainID)
		assert.Equal(t, 0.5, f.agg.lastQuote.SlippageLimitPercent)
		assert.Equal(t, float64(1), f.agg.lastQuote.OutputTokens[0].Proportion)
		assert.Equal(t, "100000000", f.agg.lastQuote.InputTokens[0].Amount)
	})

	t.Run("Assembled from path id", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{
			"pathId":     "p2",
			"outAmounts": []string{"5"},
		}, 10)

		quote, err := f.engine.Quote(ctx, f.request())
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.agg.assembles.Load())
		assert.Equal(t, "p2", f.agg.lastPathID)
		assert.Equal(t, common.HexToAddress(routerAddress), quote.Transaction.To)
	})

	t.Run("Zero output is no liquidity", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{"pathId": "p3", "outAmounts": []string{"0"}}, 10)

		quote, err := f.engine.Quote(ctx, f.request())
		assert.Nil(t, quote)
		_, ok := txerr.As[*txerr.NoLiquidityError](err)
		assert.True(t, ok)
		assert.Equal(t, int32(0), f.agg.assembles.Load())
	})

	t.Run("Empty output is no liquidity", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{"pathId": "p4", "outAmounts": []string{}}, 10)

		_, err := f.engine.Quote(ctx, f.request())
		_, ok := txerr.As[*txerr.NoLiquidityError](err)
		assert.True(t, ok)
	})

	t.Run("Price impact above ceiling", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{
			"pathId":      "p5",
			"outAmounts":  []string{"100"},
			"priceImpact": 12.5,
			"transaction": map[string]interface{}{"to": routerAddress, "data": "0x00", "value": "0"},
		}, 10)

		_, err := f.engine.Quote(ctx, f.request())
		tooHigh, ok := txerr.As[*txerr.SlippageTooHighError](err)
		require.True(t, ok)
		assert.Equal(t, 12.5, tooHigh.PriceImpactPct)
	})

	t.Run("Invalid slippage never reaches the network", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{}, 10)
		req := f.request()

		for _, slippage := range []float64{0.05, 3.5} {
			req.SlippagePct = slippage
			_, err := f.engine.Quote(ctx, req)
			_, ok := txerr.As[*txerr.InvalidSlippageError](err)
			assert.True(t, ok)
		}
		assert.Equal(t, int32(0), f.agg.quoteHits.Load())
	})

	t.Run("Rate limited without calling upstream", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{
			"pathId":      "p6",
			"outAmounts":  []string{"1"},
			"transaction": map[string]interface{}{"to": routerAddress, "data": "0x00", "value": "0"},
		}, 2)

		for i := 0; i < 2; i++ {
			_, err := f.engine.Quote(ctx, f.request())
			require.NoError(t, err)
		}
		_, err := f.engine.Quote(ctx, f.request())
		limited, ok := txerr.As[*txerr.RateLimitedError](err)
		require.True(t, ok)
		assert.Greater(t, limited.RetryAfter, time.Duration(0))
		assert.Equal(t, int32(2), f.agg.quoteHits.Load())
	})

	t.Run("Invalid requests do not spend a slot", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{
			"pathId":      "p7",
			"outAmounts":  []string{"1"},
			"transaction": map[string]interface{}{"to": routerAddress, "data": "0x00", "value": "0"},
		}, 1)

		bad := f.request()
		bad.SlippagePct = 99
		for i := 0; i < 3; i++ {
			_, err := f.engine.Quote(ctx, bad)
			_, ok := txerr.As[*txerr.InvalidSlippageError](err)
			require.True(t, ok)
		}

		_, err := f.engine.Quote(ctx, f.request())
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.agg.quoteHits.Load())
	})

	t.Run("Server errors open the breaker", func(t *testing.T) {
		f := newEngineFixture(t, map[string]interface{}{}, 10)
		f.agg.status = http.StatusBadGateway

		for i := 0; i < 2; i++ {
			_, err := f.engine.Quote(ctx, f.request())
			require.Error(t, err)
		}
		_, err := f.engine.Quote(ctx, f.request())
		assert.ErrorIs(t, err, txerr.ErrCircuitOpen)
		assert.Equal(t, int32(2), f.agg.quoteHits.Load())
	})
}

func TestBuildSwapCalls(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, map[string]interface{}{
		"pathId":      "p7",
		"outAmounts":  []string{"77"},
		"transaction": map[string]interface{}{"to": routerAddress, "data": "0xabcdef", "value": "0"},
	}, 10)

	quote, err := f.engine.Quote(ctx, f.request())
	require.NoError(t, err)

	t.Run("Approval when allowance is short", func(t *testing.T) {
		calls, err := f.engine.BuildSwapCalls(ctx, quote, f.user)
		require.NoError(t, err)
		require.Len(t, calls, 2)

		assert.Equal(t, f.in, calls[0].To)
		values, err := contracts.ERC20.Methods["approve"].Inputs.Unpack(calls[0].Data[4:])
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(routerAddress), values[0])
		testutil.AssertBigIntEqual(t, math.MaxBig256, values[1].(*big.Int))

		assert.Equal(t, quote.Transaction.Data, calls[1].Data)
		assert.Equal(t, quote.Transaction.To, calls[1].To)
	})

	t.Run("No approval when allowance covers the input", func(t *testing.T) {
		f.chain.SetAllowance(f.in, f.user, common.HexToAddress(routerAddress), testutil.USDC(100))
		calls, err := f.engine.BuildSwapCalls(ctx, quote, f.user)
		require.NoError(t, err)
		require.Len(t, calls, 1)
		assert.Equal(t, "swap", calls[0].Method)
	})

	t.Run("Rejected quotes never produce calls", func(t *testing.T) {
		bad := *quote
		bad.PriceImpactPct = 10.01
		calls, err := f.engine.BuildSwapCalls(ctx, &bad, f.user)
		assert.Nil(t, calls)
		_, ok := txerr.As[*txerr.SlippageTooHighError](err)
		assert.True(t, ok)
	})
}
