// Package options provides built-in tools backed by the Unusual Whales
// options data API.
package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Unusual Whales API endpoint.
const DefaultBaseURL = "https://api.unusualwhales.com"

// maxResponseBytes caps upstream bodies (10MB).
const maxResponseBytes = 10 << 20

// ErrMissingAPIKey is returned when a request requires a key and none is configured.
var ErrMissingAPIKey = errors.New("API key is missing")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed to fetch data: %d", e.StatusCode)
}

// Client is an Unusual Whales REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	APIKey  string
	// Timeout for API requests
	Timeout time.Duration
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HasAPIKey reports whether a key is configured.
func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// OptionContracts fetches the option chain of a ticker.
func (c *Client) OptionContracts(ctx context.Context, ticker string) (any, error) {
	return c.get(ctx, "/api/stock/"+url.PathEscape(ticker)+"/option-contracts", nil)
}

// ContractHistoric fetches daily history of one option contract.
func (c *Client) ContractHistoric(ctx context.Context, contractID string) (any, error) {
	return c.get(ctx, "/api/option-contract/"+url.PathEscape(contractID)+"/historic", nil)
}

// ScreenContracts runs the option contract screener.
func (c *Client) ScreenContracts(ctx context.Context, params url.Values) (any, error) {
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}
	return c.get(ctx, "/api/screener/option-contracts", params)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (any, error) {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var result any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
