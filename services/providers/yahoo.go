package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooProvider serves quotes, expirations and full option chains from
// the public Yahoo Finance endpoints. It is the only chain-capable
// source, so it also carries a client-side limiter as a hard floor on
// request pacing independent of the scheduler's inter-stock delay.
type YahooProvider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewYahooProvider creates a Yahoo Finance provider
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		baseURL:    yahooBaseURL,
		httpClient: newHTTPClient(),
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Name returns the source identifier
func (p *YahooProvider) Name() string {
	return SourceYahooFinance
}

// Enabled reports whether the provider can be used. Yahoo needs no API key.
func (p *YahooProvider) Enabled() bool {
	return true
}

// SupportsChains reports chain capability
func (p *YahooProvider) SupportsChains() bool {
	return true
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				Symbol             string  `json:"symbol"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooOptionRow struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Volume            *int64  `json:"volume"`
	OpenInterest      *int64  `json:"openInterest"`
	InTheMoney        bool    `json:"inTheMoney"`
}

type yahooOptionsResponse struct {
	OptionChain struct {
		Result []struct {
			UnderlyingSymbol string  `json:"underlyingSymbol"`
			ExpirationDates  []int64 `json:"expirationDates"`
			Options          []struct {
				ExpirationDate int64            `json:"expirationDate"`
				Calls          []yahooOptionRow `json:"calls"`
				Puts           []yahooOptionRow `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"optionChain"`
}

// FetchQuote resolves the current underlying price from the chart endpoint
func (p *YahooProvider) FetchQuote(ticker string) (*Quote, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", p.baseURL, ticker)

	body, err := p.get(url)
	if err != nil {
		return nil, err
	}

	var parsed yahooChartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse chart response for %s: %w", ticker, err)
	}

	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error for %s: %s", ticker, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty chart result for %s", ErrNoData, ticker)
	}

	price := parsed.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return nil, fmt.Errorf("%w: no market price for %s", ErrNoData, ticker)
	}

	return &Quote{
		Ticker:    ticker,
		Price:     price,
		Timestamp: time.Now(),
	}, nil
}

// FetchExpirations returns the available expiration dates, ascending
func (p *YahooProvider) FetchExpirations(ticker string) ([]time.Time, error) {
	url := fmt.Sprintf("%s/v7/finance/options/%s", p.baseURL, ticker)

	body, err := p.get(url)
	if err != nil {
		return nil, err
	}

	var parsed yahooOptionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse options response for %s: %w", ticker, err)
	}

	if parsed.OptionChain.Error != nil {
		return nil, fmt.Errorf("yahoo options error for %s: %s", ticker, parsed.OptionChain.Error.Description)
	}
	if len(parsed.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("%w: no options for %s", ErrNoData, ticker)
	}

	stamps := parsed.OptionChain.Result[0].ExpirationDates
	if len(stamps) == 0 {
		return nil, fmt.Errorf("%w: no expirations for %s", ErrNoData, ticker)
	}

	expirations := make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		expirations = append(expirations, time.Unix(ts, 0).UTC())
	}
	sort.Slice(expirations, func(i, j int) bool {
		return expirations[i].Before(expirations[j])
	})

	return expirations, nil
}

// FetchChain returns the full calls+puts chain for one expiration
func (p *YahooProvider) FetchChain(ticker string, expiration time.Time) (*Chain, error) {
	url := fmt.Sprintf("%s/v7/finance/options/%s?date=%d", p.baseURL, ticker, expiration.Unix())

	body, err := p.get(url)
	if err != nil {
		return nil, err
	}

	var parsed yahooOptionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse chain response for %s: %w", ticker, err)
	}

	if parsed.OptionChain.Error != nil {
		return nil, fmt.Errorf("yahoo chain error for %s: %s", ticker, parsed.OptionChain.Error.Description)
	}
	if len(parsed.OptionChain.Result) == 0 || len(parsed.OptionChain.Result[0].Options) == 0 {
		return nil, fmt.Errorf("%w: empty chain for %s %s", ErrNoData, ticker, expiration.Format("2006-01-02"))
	}

	options := parsed.OptionChain.Result[0].Options[0]
	chain := &Chain{
		Ticker:     ticker,
		Expiration: expiration,
		Calls:      convertYahooRows(options.Calls),
		Puts:       convertYahooRows(options.Puts),
		Raw:        json.RawMessage(body),
	}

	return chain, nil
}

func convertYahooRows(rows []yahooOptionRow) []ChainContract {
	contracts := make([]ChainContract, 0, len(rows))
	for _, row := range rows {
		contracts = append(contracts, ChainContract{
			ContractSymbol:    row.ContractSymbol,
			Strike:            row.Strike,
			LastPrice:         row.LastPrice,
			Bid:               row.Bid,
			Ask:               row.Ask,
			ImpliedVolatility: row.ImpliedVolatility,
			Volume:            row.Volume,
			OpenInterest:      row.OpenInterest,
			InTheMoney:        row.InTheMoney,
		})
	}
	return contracts
}

// get performs a paced GET with browser-like headers
func (p *YahooProvider) get(url string) ([]byte, error) {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return nil, fmt.Errorf("limiter wait: %w", err)
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: HTTP 429 from %s", ErrRateLimited, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}
