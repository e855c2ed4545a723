package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leggedarb/internal/models"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		userAgent:  DefaultUserAgent,
	}
}

// clobTokenIDs tolerates Gamma's habit of returning the token list as a JSON
// string that itself contains a JSON array.
type clobTokenIDs []string

func (c *clobTokenIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = nil
			return nil
		}
		var ids []string
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return err
		}
		*c = ids
		return nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*c = ids
	return nil
}

type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}
	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

type gammaMarket struct {
	Slug         string       `json:"slug"`
	ConditionID  string       `json:"conditionId"`
	EndDate      time.Time    `json:"endDate"`
	Outcomes     stringList   `json:"outcomes"`
	ClobTokenIDs clobTokenIDs `json:"clobTokenIds"`
	Closed       bool         `json:"closed"`
}

var slugPatterns = map[string]string{
	"BTC": "btc-up-or-down",
	"ETH": "eth-up-or-down",
}

// FindNextCycle returns the active (or next) 15-minute up/down market for the
// asset with at least minRemaining left before expiry. The decision core
// never calls this; only the cycle runner does, between cycles.
func (c *Client) FindNextCycle(ctx context.Context, asset string, minRemaining time.Duration) (*models.MarketCycle, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	pattern, ok := slugPatterns[asset]
	if !ok {
		return nil, fmt.Errorf("unsupported asset %q", asset)
	}

	q := url.Values{}
	q.Set("closed", "false")
	q.Set("limit", "200")
	q.Set("order", "endDate")
	q.Set("ascending", "true")
	markets, err := c.listMarkets(ctx, q)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, m := range markets {
		if m.Closed || !strings.Contains(m.Slug, pattern) {
			continue
		}
		if m.EndDate.IsZero() || m.EndDate.Sub(now) < minRemaining {
			continue
		}
		cycle, err := toCycle(m, asset)
		if err != nil {
			return nil, err
		}
		return cycle, nil
	}
	return nil, fmt.Errorf("no active %s 15-minute market with >= %s remaining", asset, minRemaining)
}

func toCycle(m gammaMarket, asset string) (*models.MarketCycle, error) {
	if len(m.ClobTokenIDs) != 2 {
		return nil, fmt.Errorf("market %q: expected 2 clobTokenIds, got %d", m.Slug, len(m.ClobTokenIDs))
	}
	// Outcomes are ["Up","Down"] (or ["Yes","No"]); token order follows the
	// outcome order. Up/Yes maps onto the YES leg.
	yesIdx, noIdx := 0, 1
	for i, out := range m.Outcomes {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "up", "yes":
			yesIdx = i
		case "down", "no":
			noIdx = i
		}
	}
	if yesIdx == noIdx || yesIdx > 1 || noIdx > 1 {
		return nil, fmt.Errorf("market %q: unrecognized outcomes %v", m.Slug, m.Outcomes)
	}
	return &models.MarketCycle{
		Slug:        m.Slug,
		Asset:       asset,
		ConditionID: m.ConditionID,
		YesTokenID:  m.ClobTokenIDs[yesIdx],
		NoTokenID:   m.ClobTokenIDs[noIdx],
		Expiry:      m.EndDate.UTC(),
	}, nil
}

func (c *Client) listMarkets(ctx context.Context, query url.Values) ([]gammaMarket, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("gamma client is nil")
	}
	endpoint := c.host + "/markets"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, string(body))
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("gamma decode: %w", err)
	}
	return markets, nil
}
