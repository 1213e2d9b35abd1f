package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantageProvider serves quotes from the GLOBAL_QUOTE endpoint.
// It is quote-only; chain methods report ErrChainsNotSupported.
// The free tier answers throttled calls with an in-band "Note" payload
// instead of an HTTP 429, which is mapped to ErrRateLimited here.
type AlphaVantageProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAlphaVantageProvider creates an Alpha Vantage provider
func NewAlphaVantageProvider(apiKey string) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		baseURL:    alphaVantageBaseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
	}
}

// Name returns the source identifier
func (p *AlphaVantageProvider) Name() string {
	return SourceAlphaVantage
}

// Enabled reports whether an API key is configured
func (p *AlphaVantageProvider) Enabled() bool {
	return p.apiKey != ""
}

// SupportsChains reports chain capability
func (p *AlphaVantageProvider) SupportsChains() bool {
	return false
}

type alphaVantageQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	Information string            `json:"Information"`
}

// FetchQuote resolves the current price via GLOBAL_QUOTE
func (p *AlphaVantageProvider) FetchQuote(ticker string) (*Quote, error) {
	if !p.Enabled() {
		return nil, fmt.Errorf("alpha vantage API key not configured")
	}

	endpoint := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		p.baseURL, url.QueryEscape(ticker), p.apiKey)

	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: HTTP 429 from alpha vantage", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from alpha vantage", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed alphaVantageQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse quote response for %s: %w", ticker, err)
	}

	// Free-tier throttle notices arrive as 200s with a Note/Information body
	if parsed.Note != "" || parsed.Information != "" {
		return nil, fmt.Errorf("%w: alpha vantage throttle notice", ErrRateLimited)
	}

	raw, ok := parsed.GlobalQuote["05. price"]
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: no price field for %s", ErrNoData, ticker)
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q for %s: %w", raw, ticker, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: nonpositive price for %s", ErrNoData, ticker)
	}

	return &Quote{
		Ticker:    ticker,
		Price:     price,
		Timestamp: time.Now(),
	}, nil
}

// FetchExpirations is unsupported for this source
func (p *AlphaVantageProvider) FetchExpirations(ticker string) ([]time.Time, error) {
	return nil, ErrChainsNotSupported
}

// FetchChain is unsupported for this source
func (p *AlphaVantageProvider) FetchChain(ticker string, expiration time.Time) (*Chain, error) {
	return nil, ErrChainsNotSupported
}
