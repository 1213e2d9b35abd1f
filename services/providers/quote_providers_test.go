package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphaVantageProvider_Enabled(t *testing.T) {
	assert.False(t, NewAlphaVantageProvider("").Enabled())
	assert.True(t, NewAlphaVantageProvider("demo").Enabled())
}

func TestAlphaVantageProvider_FetchQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "MSFT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"Global Quote":{"01. symbol":"MSFT","05. price":"412.6400","07. latest trading day":"2026-03-19"}}`))
	}))
	defer server.Close()

	p := NewAlphaVantageProvider("demo")
	p.baseURL = server.URL

	quote, err := p.FetchQuote("MSFT")
	require.NoError(t, err)
	assert.InDelta(t, 412.64, quote.Price, 1e-9)
}

func TestAlphaVantageProvider_ThrottleNotice(t *testing.T) {
	// The free tier reports throttling in-band with a 200 status
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}))
	defer server.Close()

	p := NewAlphaVantageProvider("demo")
	p.baseURL = server.URL

	_, err := p.FetchQuote("MSFT")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestAlphaVantageProvider_MissingPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote":{}}`))
	}))
	defer server.Close()

	p := NewAlphaVantageProvider("demo")
	p.baseURL = server.URL

	_, err := p.FetchQuote("NOPE")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestAlphaVantageProvider_ChainsUnsupported(t *testing.T) {
	p := NewAlphaVantageProvider("demo")

	_, err := p.FetchExpirations("AAPL")
	assert.ErrorIs(t, err, ErrChainsNotSupported)

	_, err = p.FetchChain("AAPL", time.Now())
	assert.ErrorIs(t, err, ErrChainsNotSupported)
	assert.False(t, p.SupportsChains())
}

func TestFinnhubProvider_Enabled(t *testing.T) {
	assert.False(t, NewFinnhubProvider("").Enabled())
	assert.True(t, NewFinnhubProvider("token").Enabled())
}

func TestFinnhubProvider_FetchQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TSLA", r.URL.Query().Get("symbol"))
		assert.Equal(t, "token", r.URL.Query().Get("token"))
		w.Write([]byte(`{"c":244.12,"h":248.9,"l":241.3,"o":243.0,"pc":242.84}`))
	}))
	defer server.Close()

	p := NewFinnhubProvider("token")
	p.baseURL = server.URL

	quote, err := p.FetchQuote("TSLA")
	require.NoError(t, err)
	assert.InDelta(t, 244.12, quote.Price, 1e-9)
}

func TestFinnhubProvider_UnknownSymbolZeros(t *testing.T) {
	// Finnhub answers unknown symbols with zeros, not an error status
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":0,"h":0,"l":0,"o":0,"pc":0}`))
	}))
	defer server.Close()

	p := NewFinnhubProvider("token")
	p.baseURL = server.URL

	_, err := p.FetchQuote("NOPE")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestFinnhubProvider_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewFinnhubProvider("token")
	p.baseURL = server.URL

	_, err := p.FetchQuote("TSLA")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFinnhubProvider_ChainsUnsupported(t *testing.T) {
	p := NewFinnhubProvider("token")

	_, err := p.FetchExpirations("AAPL")
	assert.ErrorIs(t, err, ErrChainsNotSupported)

	_, err = p.FetchChain("AAPL", time.Now())
	assert.ErrorIs(t, err, ErrChainsNotSupported)
	assert.False(t, p.SupportsChains())
}
