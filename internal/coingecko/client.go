package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blockpulse/internal/logger"
	"blockpulse/internal/models"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	apiKeyHeader   = "x-cg-demo-api-key"
	requestTimeout = 10 * time.Second
	marketCacheTTL = 5 * time.Minute
)

// ErrRateLimited is returned when the upstream answers 429.
var ErrRateLimited = errors.New("coingecko: rate limit exceeded")

// StatusError carries a non-200 upstream status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coingecko: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the CoinGecko public API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	memo       *gocache.Cache
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithLimiter replaces the default one-request-per-second throttle.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		memo:       gocache.New(marketCacheTTL, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SimplePrices fetches the spot price of every id in a single request. Ids the
// service does not know are absent from the result.
func (c *Client) SimplePrices(ctx context.Context, ids []string, currency string) (models.Quotes, error) {
	quotes := make(models.Quotes, len(ids))
	if len(ids) == 0 {
		return quotes, nil
	}
	currency = strings.ToLower(currency)

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", currency)

	var body map[string]map[string]*float64
	if err := c.get(ctx, "/simple/price", params, &body); err != nil {
		return nil, err
	}

	for id, prices := range body {
		price, ok := prices[currency]
		if !ok || price == nil {
			continue
		}
		quotes[id] = models.Quote{Currency: currency, Price: *price}
	}
	return quotes, nil
}

// MarketsQuery selects a page of /coins/markets.
type MarketsQuery struct {
	Currency string
	IDs      []string
	Page     int
	PerPage  int
}

func (q MarketsQuery) values() url.Values {
	params := url.Values{}
	currency := q.Currency
	if currency == "" {
		currency = "usd"
	}
	params.Set("vs_currency", strings.ToLower(currency))
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(q.PerPage))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("sparkline", "false")
	return params
}

// Markets lists coins ordered by market cap. Results are memoised for five minutes.
func (c *Client) Markets(ctx context.Context, q MarketsQuery) ([]models.Coin, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 20
	}
	params := q.values()
	key := "markets?" + params.Encode()

	if cached, ok := c.memo.Get(key); ok {
		return cached.([]models.Coin), nil
	}

	var coins []models.Coin
	if err := c.get(ctx, "/coins/markets", params, &coins); err != nil {
		return nil, err
	}
	if coins == nil {
		coins = []models.Coin{}
	}
	c.memo.Set(key, coins, gocache.DefaultExpiration)
	return coins, nil
}

// SearchResult is one coin hit of /search.
type SearchResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Thumb  string `json:"thumb"`
}

// Search finds coins matching query. Results are memoised for five minutes.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	params := url.Values{}
	params.Set("query", query)
	key := "search?" + params.Encode()

	if cached, ok := c.memo.Get(key); ok {
		return cached.([]SearchResult), nil
	}

	var body struct {
		Coins []SearchResult `json:"coins"`
	}
	if err := c.get(ctx, "/search", params, &body); err != nil {
		return nil, err
	}
	c.memo.Set(key, body.Coins, gocache.DefaultExpiration)
	return body.Coins, nil
}

// ListCoins returns a market page, or with a search term the market rows of
// the first limit search hits.
func (c *Client) ListCoins(ctx context.Context, page, limit int, search, currency string) ([]models.Coin, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return c.Markets(ctx, MarketsQuery{Currency: currency, Page: page, PerPage: limit})
	}

	hits, err := c.Search(ctx, search)
	if err != nil {
		return nil, err
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.ID != "" {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return []models.Coin{}, nil
	}
	return c.Markets(ctx, MarketsQuery{Currency: currency, IDs: ids, Page: 1, PerPage: limit})
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Log.Error("CoinGecko request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("coingecko %s: %w", path, err)
	}
	defer resp.Body.Close()

	logger.Log.Debug("CoinGecko request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coingecko %s: decode: %w", path, err)
	}
	return nil
}
