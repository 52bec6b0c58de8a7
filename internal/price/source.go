package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// Source fetches one SOL/USD quote.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Default endpoints.
const (
	CoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	BinanceURL   = "https://api.binance.com/api/v3/ticker/price?symbol=SOLUSDT"
	JupiterURL   = "https://lite-api.jup.ag/price/v3?ids=So11111111111111111111111111111111111111112"
)

const wsolMint = "So11111111111111111111111111111111111111112"

// HTTPSource is a GET + JSON decode source.
type HTTPSource struct {
	name    string
	url     string
	client  *http.Client
	extract func(body []byte) (float64, error)
}

// NewHTTPSource builds a source that GETs url and extracts the quote with fn.
func NewHTTPSource(name, url string, client *http.Client, fn func([]byte) (float64, error)) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{name: name, url: url, client: client, extract: fn}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: create request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("%s: read body: %w", s.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode)
	}

	v, err := s.extract(body)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.name, err)
	}
	if !Valid(v) {
		return 0, fmt.Errorf("%s: invalid quote %v", s.name, v)
	}
	return v, nil
}

// Valid reports whether v is a usable quote: finite and positive.
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// CoinGecko: {"solana":{"usd":145.2}}
func CoinGecko(url string, client *http.Client) *HTTPSource {
	return NewHTTPSource("coingecko", url, client, func(body []byte) (float64, error) {
		var out map[string]map[string]float64
		if err := json.Unmarshal(body, &out); err != nil {
			return 0, fmt.Errorf("decode: %w", err)
		}
		v, ok := out["solana"]["usd"]
		if !ok {
			return 0, fmt.Errorf("missing solana.usd")
		}
		return v, nil
	})
}

// Binance: {"symbol":"SOLUSDT","price":"145.20000000"}
func Binance(url string, client *http.Client) *HTTPSource {
	return NewHTTPSource("binance", url, client, func(body []byte) (float64, error) {
		var out struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return 0, fmt.Errorf("decode: %w", err)
		}
		return strconv.ParseFloat(out.Price, 64)
	})
}

// Jupiter: {"So111...":{"usdPrice":145.2}}; older shapes nest under "data"
// with a string "price".
func Jupiter(url string, client *http.Client) *HTTPSource {
	return NewHTTPSource("jupiter", url, client, func(body []byte) (float64, error) {
		var v3 map[string]json.RawMessage
		if err := json.Unmarshal(body, &v3); err != nil {
			return 0, fmt.Errorf("decode: %w", err)
		}
		if raw, ok := v3[wsolMint]; ok {
			var entry struct {
				USDPrice float64 `json:"usdPrice"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil {
				return 0, fmt.Errorf("decode entry: %w", err)
			}
			return entry.USDPrice, nil
		}
		if raw, ok := v3["data"]; ok {
			var data map[string]struct {
				Price json.Number `json:"price"`
			}
			if err := json.Unmarshal(raw, &data); err != nil {
				return 0, fmt.Errorf("decode data: %w", err)
			}
			if e, ok := data[wsolMint]; ok {
				return e.Price.Float64()
			}
		}
		return 0, fmt.Errorf("missing %s", wsolMint)
	})
}

// ByName builds the built-in sources in the given order.
func ByName(names []string, client *http.Client) ([]Source, error) {
	out := make([]Source, 0, len(names))
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "coingecko":
			out = append(out, CoinGecko(CoinGeckoURL, client))
		case "binance":
			out = append(out, Binance(BinanceURL, client))
		case "jupiter":
			out = append(out, Jupiter(JupiterURL, client))
		case "":
		default:
			return nil, fmt.Errorf("unknown price source %q", n)
		}
	}
	return out, nil
}
