package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	cacheKey       = "rates:btc:usd"
	staleCacheKey  = "rates:btc:usd:last"
)

// Quote is the BTC/USD price served to the presentation layer. Prices are
// display-only and never enter the money path.
type Quote struct {
	PriceUSD  float64   `json:"price_usd"`
	Change24h float64   `json:"change_24h"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Service fetches BTC quotes from the public price API and caches them in
// Redis so dashboard polling does not hammer the upstream.
type Service struct {
	http  *resty.Client
	cache *redis.Client
	ttl   time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithBaseURL points the client at an alternative price API, used in tests.
func WithBaseURL(url string) Option {
	return func(s *Service) { s.http.SetBaseURL(url) }
}

// NewService builds a quote service. cache may be nil, in which case every
// call hits the upstream API.
func NewService(cache *redis.Client, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(10 * time.Second),
		cache: cache,
		ttl:   ttl,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type simplePriceResponse struct {
	Bitcoin struct {
		USD       float64 `json:"usd"`
		Change24h float64 `json:"usd_24h_change"`
	} `json:"bitcoin"`
}

// BTCQuote returns the current BTC/USD quote, preferring the cached value.
// When the upstream is unreachable the last known good quote is served
// instead, if one exists.
func (s *Service) BTCQuote(ctx context.Context) (Quote, error) {
	if q, ok := s.cachedQuote(ctx, cacheKey); ok {
		return q, nil
	}

	q, err := s.fetch(ctx)
	if err != nil {
		if stale, ok := s.cachedQuote(ctx, staleCacheKey); ok {
			return stale, nil
		}
		return Quote{}, err
	}

	s.storeQuote(ctx, q)
	return q, nil
}

func (s *Service) fetch(ctx context.Context) (Quote, error) {
	var out simplePriceResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":                 "bitcoin",
			"vs_currencies":       "usd",
			"include_24hr_change": "true",
		}).
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return Quote{}, fmt.Errorf("fetch btc quote: %w", err)
	}
	if resp.IsError() {
		return Quote{}, fmt.Errorf("fetch btc quote: upstream status %d", resp.StatusCode())
	}
	if out.Bitcoin.USD == 0 {
		return Quote{}, fmt.Errorf("fetch btc quote: empty price")
	}

	return Quote{
		PriceUSD:  out.Bitcoin.USD,
		Change24h: out.Bitcoin.Change24h,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (s *Service) cachedQuote(ctx context.Context, key string) (Quote, bool) {
	if s.cache == nil {
		return Quote{}, false
	}
	payload, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal([]byte(payload), &q); err != nil {
		return Quote{}, false
	}
	return q, true
}

func (s *Service) storeQuote(ctx context.Context, q Quote) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return
	}
	// Best effort: a cache write failure only costs an extra upstream call.
	s.cache.Set(ctx, cacheKey, payload, s.ttl)
	s.cache.Set(ctx, staleCacheKey, payload, 0)
}
