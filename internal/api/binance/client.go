// Package binance is the market-data client for the Binance REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpClient "github.com/ca3003/crypto-analyzer-bot/internal/platform/http"
	"github.com/ca3003/crypto-analyzer-bot/models"
)

// Client is the Binance API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpClient.Client
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Binance client
type ClientOptions struct {
	APIKey          string
	BaseURL         string
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// apiError is the error envelope Binance returns instead of data.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewClient creates a new Binance API client
func NewClient(options ClientOptions) *Client {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Client{
		apiKey:  options.APIKey,
		baseURL: baseURL,
		httpClient: httpClient.NewClient(httpClient.ClientOptions{
			Timeout:         options.RequestTimeout,
			RequestsPerSec:  options.RequestsPerSec,
			MaxRetryTimeout: options.MaxRetryTimeout,
		}),
		logger: log.With().Str("component", "binance_client").Logger(),
	}
}

// GetKlines fetches candlestick data for a trading pair, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", query)
	if err != nil {
		return nil, err
	}

	var klines []models.Kline
	if err := json.Unmarshal(body, &klines); err != nil {
		if msg, ok := decodeAPIError(body); ok {
			c.logger.Error().Str("response", msg).Msg("Binance API error")
			return nil, fmt.Errorf("Binance API error: %s", msg)
		}
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Error parsing klines")
		return nil, fmt.Errorf("parsing klines: %w", err)
	}

	if len(klines) == 0 {
		c.logger.Warn().Str("symbol", symbol).Msg("No klines in response")
		return nil, fmt.Errorf("empty kline data for %s", symbol)
	}

	c.logger.Debug().Str("symbol", symbol).Int("count", len(klines)).Msg("Fetched klines")
	return klines, nil
}

// GetCurrentPrice fetches the latest trade price for a trading pair.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/price", query)
	if err != nil {
		return 0, err
	}

	var ticker models.TickerPrice
	if err := json.Unmarshal(body, &ticker); err != nil {
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Error parsing ticker")
		return 0, fmt.Errorf("parsing ticker: %w", err)
	}
	if ticker.Symbol == "" {
		if msg, ok := decodeAPIError(body); ok {
			return 0, fmt.Errorf("Binance API error: %s", msg)
		}
		return 0, fmt.Errorf("empty ticker for %s", symbol)
	}

	return ticker.Price, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path + "?" + query.Encode()
	c.logger.Debug().Str("url", u).Msg("Fetching")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}

func decodeAPIError(body []byte) (string, bool) {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Msg == "" {
		return "", false
	}
	return fmt.Sprintf("%s (code %d)", e.Msg, e.Code), true
}
