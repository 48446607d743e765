package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"binance-grid-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderTypeLimit   = "LIMIT"
	OrderSideBuy     = "BUY"
	OrderSideSell    = "SELL"
	TimeInForceGTC   = "GTC"
	OrderRespTypeAck = "ACK"
)

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetTickerPrice(ctx context.Context, symbol string) (string, error)
	GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfoResponse, error)
	GetAccount(ctx context.Context) (*AccountResponse, error)
	CreateOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error)
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger.Named("binance"),
		limiter:   limiter,
		breaker:   newBreaker(logger),
	}
}

// newBreaker trips after repeated transport or server failures. Rejections
// the exchange answers deliberately (bad params, no balance, unknown order)
// say nothing about its health and are not counted.
func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "binance-rest",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// APIError is an error answer of the Binance API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: code=%d msg=%s", e.StatusCode, e.Code, e.Msg)
}

// Binance error codes the gateway reacts to.
const (
	CodeNewOrderRejected    = -2010
	CodeCancelRejected      = -2011
	CodeNoSuchOrder         = -2013
	statusCodeIPBanned      = 418
	defaultRetryAfterFactor = 2
)

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery adds timestamp, recvWindow and the signature to params. The
// signature is appended last so the signed string is sent verbatim.
func (c *RestClient) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

// requestBuilder returns a fresh request and the path (with query) to execute
// it on. It is called once per attempt so signed requests get a new timestamp.
type requestBuilder func() (*resty.Request, string)

// doRequest runs the request through the circuit breaker.
func (c *RestClient) doRequest(ctx context.Context, method string, build requestBuilder) (*resty.Response, error) {
	if c.breaker == nil {
		return c.doRequestWithRetry(ctx, method, build)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.doRequestWithRetry(ctx, method, build)
	})
	if err != nil {
		return nil, err
	}
	return out.(*resty.Response), nil
}

// doRequestWithRetry handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequestWithRetry(ctx context.Context, method string, build requestBuilder) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		req, path := build()
		req.SetContext(ctx).SetError(&APIError{})

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err = req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err != nil { // Network or other client-side errors
			shouldRetry = true
		} else {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == statusCodeIPBanned {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
			err = newAPIError(resp)
		}

		if !shouldRetry {
			return nil, err
		}
		if i == maxRetries-1 {
			break
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(defaultRetryAfterFactor, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

func newAPIError(resp *resty.Response) *APIError {
	apiErr, _ := resp.Error().(*APIError)
	if apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	if apiErr.Msg == "" {
		apiErr.Msg = resp.String()
	}
	return apiErr
}

// public builds an unsigned request.
func (c *RestClient) public(path string, params url.Values, result any) requestBuilder {
	return func() (*resty.Request, string) {
		req := c.client.R().SetResult(result)
		if len(params) == 0 {
			return req, path
		}
		return req, path + "?" + params.Encode()
	}
}

// signedInQuery builds a signed request carrying its parameters in the URL.
func (c *RestClient) signedInQuery(path string, params url.Values, result any) requestBuilder {
	return func() (*resty.Request, string) {
		req := c.client.R().
			SetHeader("X-MBX-APIKEY", c.apiKey).
			SetResult(result)
		return req, path + "?" + c.signedQuery(cloneValues(params))
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	resp, err := c.doRequest(ctx, http.MethodGet, c.public("/time", nil, &ServerTimeResponse{}))
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetTickerPrice fetches the latest price of one symbol.
func (c *RestClient) GetTickerPrice(ctx context.Context, symbol string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.doRequest(ctx, http.MethodGet, c.public("/ticker/price", params, &TickerPrice{}))
	if err != nil {
		return "", fmt.Errorf("failed to get ticker price of %s: %w", symbol, err)
	}
	return resp.Result().(*TickerPrice).Price, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// GetExchangeInfo fetches the trading rules of one symbol.
func (c *RestClient) GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfoResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.doRequest(ctx, http.MethodGet, c.public("/exchangeInfo", params, &ExchangeInfoResponse{}))
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// Balance is the free and locked amount of one asset.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountResponse represents the response of the /account endpoint.
type AccountResponse struct {
	CanTrade bool      `json:"canTrade"`
	Balances []Balance `json:"balances"`
}

// GetAccount fetches the spot account balances.
func (c *RestClient) GetAccount(ctx context.Context) (*AccountResponse, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	resp, err := c.doRequest(ctx, http.MethodGet, c.signedInQuery("/account", params, &AccountResponse{}))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return resp.Result().(*AccountResponse), nil
}

// OrderRequest describes a new limit order.
type OrderRequest struct {
	Symbol        string
	Side          string
	Quantity      string
	Price         string
	ClientOrderID string
}

// OrderResponse represents an order as returned by the /order endpoints.
type OrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	OrigClientOrderID   string `json:"origClientOrderId,omitempty"`
	TransactTime        int64  `json:"transactTime,omitempty"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// CreateOrder places a new GTC limit order on Binance.
func (c *RestClient) CreateOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", OrderTypeLimit)
	params.Set("timeInForce", TimeInForceGTC)
	params.Set("quantity", order.Quantity)
	params.Set("price", order.Price)
	params.Set("newOrderRespType", OrderRespTypeAck)
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	build := func() (*resty.Request, string) {
		req := c.client.R().
			SetHeader("X-MBX-APIKEY", c.apiKey).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(c.signedQuery(cloneValues(params))).
			SetResult(&OrderResponse{})
		return req, "/order"
	}

	resp, err := c.doRequest(ctx, http.MethodPost, build)
	if err != nil {
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*OrderResponse)
	c.logger.Info("Successfully created order", zap.Any("order", result))
	return result, nil
}

// QueryOrder fetches an order by its client order id.
func (c *RestClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	resp, err := c.doRequest(ctx, http.MethodGet, c.signedInQuery("/order", params, &OrderResponse{}))
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", clientOrderID, err)
	}
	return resp.Result().(*OrderResponse), nil
}

// CancelOrder cancels an open order by its client order id.
func (c *RestClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	resp, err := c.doRequest(ctx, http.MethodDelete, c.signedInQuery("/order", params, &OrderResponse{}))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", clientOrderID, err)
	}
	return resp.Result().(*OrderResponse), nil
}
