package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider serves quotes from the /quote endpoint. Quote-only.
type FinnhubProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFinnhubProvider creates a Finnhub provider
func NewFinnhubProvider(apiKey string) *FinnhubProvider {
	return &FinnhubProvider{
		baseURL:    finnhubBaseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
	}
}

// Name returns the source identifier
func (p *FinnhubProvider) Name() string {
	return SourceFinnhub
}

// Enabled reports whether an API key is configured
func (p *FinnhubProvider) Enabled() bool {
	return p.apiKey != ""
}

// SupportsChains reports chain capability
func (p *FinnhubProvider) SupportsChains() bool {
	return false
}

type finnhubQuoteResponse struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
}

// FetchQuote resolves the current price. Finnhub answers unknown
// symbols with zeros rather than an error status.
func (p *FinnhubProvider) FetchQuote(ticker string) (*Quote, error) {
	if !p.Enabled() {
		return nil, fmt.Errorf("finnhub API key not configured")
	}

	endpoint := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
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
		return nil, fmt.Errorf("%w: HTTP 429 from finnhub", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from finnhub", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed finnhubQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse quote response for %s: %w", ticker, err)
	}

	if parsed.Current <= 0 {
		return nil, fmt.Errorf("%w: no quote for %s", ErrNoData, ticker)
	}

	return &Quote{
		Ticker:    ticker,
		Price:     parsed.Current,
		Timestamp: time.Now(),
	}, nil
}

// FetchExpirations is unsupported for this source
func (p *FinnhubProvider) FetchExpirations(ticker string) ([]time.Time, error) {
	return nil, ErrChainsNotSupported
}

// FetchChain is unsupported for this source
func (p *FinnhubProvider) FetchChain(ticker string, expiration time.Time) (*Chain, error) {
	return nil, ErrChainsNotSupported
}
