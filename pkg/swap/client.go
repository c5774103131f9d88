package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stablezap/stablezap/pkg/logger"
)

const (
	quotePath    = "/sor/quote/v2"
	assemblePath = "/sor/assemble"
)

// InputToken is one input leg of a quote request
type InputToken struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

// OutputToken is one output leg of a quote request
type OutputToken struct {
	TokenAddress string  `json:"tokenAddress"`
	Proportion   float64 `json:"proportion"`
}

// QuoteRequestBody is the aggregator quote payload
type QuoteRequestBody struct {
	ChainID              int64         `json:"chainId"`
	InputTokens          []InputToken  `json:"inputTokens"`
	OutputTokens         []OutputToken `json:"outputTokens"`
	UserAddr             string        `json:"userAddr"`
	SlippageLimitPercent float64       `json:"slippageLimitPercent"`
	Compact              bool          `json:"compact"`
}

// TransactionBody is the executable transaction built by the aggregator
type TransactionBody struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   int64  `json:"gas,omitempty"`
}

// QuoteResponse is the aggregator quote answer
type QuoteResponse struct {
	PathID      string           `json:"pathId"`
	InAmounts   []string         `json:"inAmounts"`
	OutAmounts  []string         `json:"outAmounts"`
	PriceImpact *float64         `json:"priceImpact"`
	GasEstimate float64          `json:"gasEstimate"`
	Transaction *TransactionBody `json:"transaction,omitempty"`
}

// AssembleRequestBody turns a quoted path into a transaction
type AssembleRequestBody struct {
	UserAddr string `json:"userAddr"`
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
}

// AssembleResponse is the aggregator assemble answer
type AssembleResponse struct {
	Transaction *TransactionBody `json:"transaction"`
}

// Client talks to the DEX aggregator HTTP API
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a new aggregator client
func NewClient(endpoint string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: createHTTPClient(timeout),
		logger:     log,
	}
}

// Quote requests a quote
func (c *Client) Quote(ctx context.Context, body QuoteRequestBody) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := c.post(ctx, quotePath, body, &resp); err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	return &resp, nil
}

// Assemble builds the transaction for a quoted path
func (c *Client) Assemble(ctx context.Context, body AssembleRequestBody) (*AssembleResponse, error) {
	var resp AssembleResponse
	if err := c.post(ctx, assemblePath, body, &resp); err != nil {
		return nil, fmt.Errorf("assemble request failed: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

// StatusError is a non-200 aggregator answer
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

// Transient reports whether the failure should count against the circuit breaker
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
