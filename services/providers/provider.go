package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Source names as recorded on contracts and scrape logs
const (
	SourceYahooFinance = "yahoo_finance"
	SourceAlphaVantage = "alpha_vantage"
	SourceFinnhub      = "finnhub"
	SourceDatabase     = "database"
)

var (
	// ErrRateLimited signals an upstream throttle response (HTTP 429 or
	// an equivalent in-band notice)
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrChainsNotSupported is returned by quote-only providers
	ErrChainsNotSupported = errors.New("provider does not serve option chains")

	// ErrNoData means the provider answered but carried no usable quote
	ErrNoData = errors.New("no data returned by provider")
)

// Quote is a resolved underlying price
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ChainContract is a single row of an option chain
type ChainContract struct {
	ContractSymbol    string  `json:"contract_symbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"last_price"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	Volume            *int64  `json:"volume"`
	OpenInterest      *int64  `json:"open_interest"`
	InTheMoney        bool    `json:"in_the_money"`
}

// Chain is the full set of calls and puts for one ticker and expiration
type Chain struct {
	Ticker     string          `json:"ticker"`
	Expiration time.Time       `json:"expiration"`
	Calls      []ChainContract `json:"calls"`
	Puts       []ChainContract `json:"puts"`
	Raw        json.RawMessage `json:"-"`
}

// Provider is one upstream quote/chain source. Quote-only providers
// return ErrChainsNotSupported from the chain methods.
type Provider interface {
	Name() string
	Enabled() bool
	SupportsChains() bool
	FetchQuote(ticker string) (*Quote, error)
	FetchExpirations(ticker string) ([]time.Time, error)
	FetchChain(ticker string, expiration time.Time) (*Chain, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
	}
}
