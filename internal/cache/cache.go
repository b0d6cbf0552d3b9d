// Package cache publishes the latest canonical price per metal to Redis so
// readers can avoid querying the ledger.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalledger/internal/config"
	"metalledger/internal/pricing"
)

const keyPrefix = "latest:"

// LatestPrice is the cached document for one metal.
type LatestPrice struct {
	Metal      pricing.MetalSlug `json:"metal"`
	Value      decimal.Decimal   `json:"value"`
	Currency   string            `json:"currency"`
	Source     pricing.SourceID  `json:"source"`
	ObservedAt time.Time         `json:"observed_at"`
}

// Key returns the Redis key holding metal's latest price.
func Key(metal pricing.MetalSlug) string { return keyPrefix + metal.String() }

// Publisher writes latest prices with a TTL.
type Publisher struct {
	client redis.Cmdable
	closer func() error
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis. It returns nil when no address is configured; a
// nil Publisher is valid and does nothing.
func New(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	p := NewWithClient(client, cfg.TTL, logger)
	p.closer = client.Close
	return p, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "latest_cache").Logger(),
	}
}

// Publish stores the newest observation per metal from prices.
func (p *Publisher) Publish(ctx context.Context, prices []pricing.PriceObservation) error {
	if p == nil || len(prices) == 0 {
		return nil
	}

	latest := Newest(prices)
	pipe := p.client.Pipeline()
	for _, price := range latest {
		data, err := json.Marshal(price)
		if err != nil {
			return fmt.Errorf("encode latest %s: %w", price.Metal, err)
		}
		pipe.Set(ctx, Key(price.Metal), data, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish latest prices: %w", err)
	}

	p.logger.Debug().Int("metals", len(latest)).Msg("latest prices published")
	return nil
}

// Latest reads metal's cached price. ok is false on a cache miss.
func (p *Publisher) Latest(ctx context.Context, metal pricing.MetalSlug) (LatestPrice, bool, error) {
	if p == nil {
		return LatestPrice{}, false, nil
	}

	data, err := p.client.Get(ctx, Key(metal)).Bytes()
	if errors.Is(err, redis.Nil) {
		return LatestPrice{}, false, nil
	}
	if err != nil {
		return LatestPrice{}, false, fmt.Errorf("get latest %s: %w", metal, err)
	}

	var price LatestPrice
	if err := json.Unmarshal(data, &price); err != nil {
		return LatestPrice{}, false, fmt.Errorf("decode latest %s: %w", metal, err)
	}
	return price, true, nil
}

// Close releases the connection when New created it.
func (p *Publisher) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}

// Newest keeps the observation with the latest ObservedAt per metal, later
// entries winning ties, in first-seen metal order.
func Newest(prices []pricing.PriceObservation) []LatestPrice {
	index := make(map[pricing.MetalSlug]int)
	out := make([]LatestPrice, 0)
	for _, obs := range prices {
		doc := LatestPrice{
			Metal:      obs.Metal,
			Value:      obs.Value,
			Currency:   obs.CurrencyOrDefault(),
			Source:     obs.Source,
			ObservedAt: obs.ObservedAt.UTC(),
		}
		i, seen := index[obs.Metal]
		if !seen {
			index[obs.Metal] = len(out)
			out = append(out, doc)
			continue
		}
		if !doc.ObservedAt.Before(out[i].ObservedAt) {
			out[i] = doc
		}
	}
	return out
}
