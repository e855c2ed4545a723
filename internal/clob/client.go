package clob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

const DefaultHost = "https://clob.polymarket.com"

type Client struct {
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      *Credentials
	signer     *Signer
}

// Credentials are the L2 API credentials used to sign authenticated requests.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clob API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string, rps float64, burst int) *Client {
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimRight(host, "/")
	if rps <= 0 {
		rps = 8
	}
	if burst <= 0 {
		burst = int(rps)
	}
	return &Client{
		host:       host,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// WithAuth attaches L2 credentials and a local order signer; required for
// trading endpoints, not for public data.
func (c *Client) WithAuth(creds Credentials, signer *Signer) *Client {
	c.creds = &creds
	c.signer = signer
	return c
}

func (c *Client) HasAuth() bool {
	return c != nil && c.creds != nil && c.creds.APIKey != "" && c.creds.Secret != "" && c.creds.Passphrase != ""
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers http.Header, body []byte) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("clob client is nil")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// GetBook fetches the current order book for one token.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("token_id is required")
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	body, err := c.doGet(ctx, "/book", query)
	if err != nil {
		return nil, err
	}
	return parseOrderBook(body)
}

