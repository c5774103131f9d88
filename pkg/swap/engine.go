// Package swap fetches DEX aggregator quotes and turns them into call lists.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/circuitbreaker"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/metrics"
	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/txerr"
)

const (
	// MinSlippagePct is the lowest accepted slippage tolerance
	MinSlippagePct = 0.1

	// MaxPriceImpactPct is the hard ceiling on quoted price impact
	MaxPriceImpactPct = 10.0
)

// Aggregator is the remote quote service
type Aggregator interface {
	Quote(ctx context.Context, body QuoteRequestBody) (*QuoteResponse, error)
	Assemble(ctx context.Context, body AssembleRequestBody) (*AssembleResponse, error)
}

// Config holds the engine settings
type Config struct {
	ChainID         int64
	DefaultSlippage float64
	MaxSlippage     float64
	Timeout         time.Duration
}

// QuoteRequest describes the swap to quote
type QuoteRequest struct {
	InputToken  common.Address
	OutputToken common.Address
	InputAmount *big.Int
	UserAddress common.Address
	SlippagePct float64 // zero selects the default
}

// Engine fetches quotes and builds swap call lists
type Engine struct {
	aggregator Aggregator
	limiter    *Limiter
	breaker    *circuitbreaker.CircuitBreaker
	prices     *PriceCache
	chain      blockchain.ChainClient
	cfg        Config
	logger     logger.Logger
}

// NewEngine creates a new swap engine. limiter is shared by every caller of the process.
func NewEngine(
	aggregator Aggregator,
	limiter *Limiter,
	breaker *circuitbreaker.CircuitBreaker,
	chain blockchain.ChainClient,
	cfg Config,
	log logger.Logger,
) *Engine {
	return &Engine{
		aggregator: aggregator,
		limiter:    limiter,
		breaker:    breaker,
		chain:      chain,
		cfg:        cfg,
		logger:     log,
	}
}

// SetPriceCache makes the engine record the price of every accepted quote
func (e *Engine) SetPriceCache(prices *PriceCache) {
	e.prices = prices
}

// Quote fetches a fresh quote. Quotes are never cached.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (*models.Quote, error) {
	slippage := req.SlippagePct
	if slippage == 0 {
		slippage = e.cfg.DefaultSlippage
	}
	if slippage < MinSlippagePct || slippage > e.cfg.MaxSlippage {
		metrics.QuoteRejections.WithLabelValues("invalid_slippage").Inc()
		return nil, &txerr.InvalidSlippageError{SlippagePct: slippage, MinPct: MinSlippagePct, MaxPct: e.cfg.MaxSlippage}
	}
	if req.InputAmount == nil || req.InputAmount.Sign() <= 0 {
		return nil, &txerr.InvalidAmountError{Amount: fmt.Sprint(req.InputAmount), Reason: "must be greater than 0"}
	}

	if err := e.limiter.Acquire(); err != nil {
		metrics.QuoteRateLimited.Inc()
		return nil, err
	}

	if err := e.breaker.Allow(); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.aggregator.Quote(timeoutCtx, QuoteRequestBody{
		ChainID:              e.cfg.ChainID,
		InputTokens:          []InputToken{{TokenAddress: req.InputToken.Hex(), Amount: req.InputAmount.String()}},
		OutputTokens:         []OutputToken{{TokenAddress: req.OutputToken.Hex(), Proportion: 1}},
		UserAddr:             req.UserAddress.Hex(),
		SlippageLimitPercent: slippage,
		Compact:              true,
	})
	if err != nil {
		e.recordFailure(err)
		return nil, err
	}
	e.breaker.RecordSuccess()

	quote, err := toQuote(req, resp)
	if err != nil {
		return nil, err
	}
	if err := validateQuote(quote); err != nil {
		return nil, err
	}

	if resp.Transaction == nil || resp.Transaction.To == "" {
		if resp.PathID == "" {
			return nil, fmt.Errorf("quote has neither a transaction nor a path id")
		}
		assembled, err := e.aggregator.Assemble(timeoutCtx, AssembleRequestBody{
			UserAddr: req.UserAddress.Hex(),
			PathID:   resp.PathID,
		})
		if err != nil {
			e.recordFailure(err)
			return nil, err
		}
		if assembled.Transaction == nil {
			return nil, fmt.Errorf("assemble returned no transaction for path %s", resp.PathID)
		}
		resp.Transaction = assembled.Transaction
	}

	tx, err := parseTransaction(resp.Transaction)
	if err != nil {
		return nil, err
	}
	quote.Transaction = tx
	if e.prices != nil {
		e.prices.Record(quote)
	}

	e.logger.Debug("Quote %s: %s -> %s, out %s, impact %.2f%%",
		quote.PathID, req.InputToken.Hex(), req.OutputToken.Hex(), quote.OutAmount(), quote.PriceImpactPct)
	return quote, nil
}

// BuildSwapCalls turns a quote into a call list: an approval of the aggregator
// router when the allowance is short, then the aggregator transaction verbatim.
func (e *Engine) BuildSwapCalls(ctx context.Context, quote *models.Quote, owner common.Address) ([]models.Call, error) {
	if quote == nil {
		return nil, fmt.Errorf("nil quote")
	}
	if err := validateQuote(quote); err != nil {
		return nil, err
	}
	if quote.Transaction.To == (common.Address{}) {
		return nil, fmt.Errorf("quote %s has no transaction", quote.PathID)
	}

	var calls []models.Call

	allowance, err := blockchain.Allowance(ctx, e.chain, quote.InputToken, owner, quote.Transaction.To)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(quote.InAmount) < 0 {
		approve, err := blockchain.ApproveCall(quote.InputToken, quote.Transaction.To)
		if err != nil {
			return nil, err
		}
		calls = append(calls, approve)
	}

	value := quote.Transaction.Value
	if value == nil {
		value = big.NewInt(0)
	}
	calls = append(calls, models.Call{
		To:     quote.Transaction.To,
		Data:   quote.Transaction.Data,
		Value:  value,
		Method: "swap",
	})
	return calls, nil
}

func (e *Engine) recordFailure(err error) {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		if !statusErr.Transient() {
			return
		}
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
	default:
		return
	}
	e.breaker.RecordFailure()
}

// validateQuote rejects quotes without liquidity or above the impact ceiling
func validateQuote(quote *models.Quote) error {
	if quote.OutAmount().Sign() <= 0 {
		metrics.QuoteRejections.WithLabelValues("no_liquidity").Inc()
		return &txerr.NoLiquidityError{InputToken: quote.InputToken, OutputToken: quote.OutputToken}
	}
	if quote.PriceImpactPct > MaxPriceImpactPct {
		metrics.QuoteRejections.WithLabelValues("price_impact").Inc()
		return &txerr.SlippageTooHighError{PriceImpactPct: quote.PriceImpactPct, MaxPct: MaxPriceImpactPct}
	}
	return nil
}

func toQuote(req QuoteRequest, resp *QuoteResponse) (*models.Quote, error) {
	quote := &models.Quote{
		PathID:      resp.PathID,
		InputToken:  req.InputToken,
		OutputToken: req.OutputToken,
		InAmount:    new(big.Int).Set(req.InputAmount),
		GasEstimate: resp.GasEstimate,
	}

	for _, out := range resp.OutAmounts {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(out), 10)
		if !ok {
			return nil, fmt.Errorf("invalid output amount %q", out)
		}
		quote.OutAmounts = append(quote.OutAmounts, amount)
	}

	// The aggregator reports adverse impact as a negative percentage
	if resp.PriceImpact != nil {
		quote.PriceImpactPct = math.Abs(*resp.PriceImpact)
	}
	return quote, nil
}

func parseTransaction(body *TransactionBody) (models.SwapTransaction, error) {
	if !common.IsHexAddress(body.To) {
		return models.SwapTransaction{}, fmt.Errorf("invalid transaction target %q", body.To)
	}
	data, err := hexutil.Decode(body.Data)
	if err != nil {
		return models.SwapTransaction{}, fmt.Errorf("invalid transaction data: %v", err)
	}

	value := big.NewInt(0)
	if body.Value != "" {
		if _, ok := value.SetString(body.Value, 0); !ok {
			return models.SwapTransaction{}, fmt.Errorf("invalid transaction value %q", body.Value)
		}
	}

	return models.SwapTransaction{
		To:    common.HexToAddress(body.To),
		Data:  data,
		Value: value,
	}, nil
}
