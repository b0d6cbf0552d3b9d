package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"metalledger/internal/config"
	"metalledger/internal/pricing"
)

var ts = time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)

func price(metal pricing.MetalSlug, source pricing.SourceID, value string, at time.Time) pricing.PriceObservation {
	return pricing.PriceObservation{
		Source:     source,
		Metal:      metal,
		ObservedAt: at,
		Value:      decimal.RequireFromString(value),
	}
}

func TestNewest(t *testing.T) {
	latest := Newest([]pricing.PriceObservation{
		price("CU_BARE", pricing.SourceIScrap, "3.85", ts),
		price("HMS1", pricing.SourceIScrap, "0.10", ts),
		price("CU_BARE", pricing.SourceDealerManual, "3.90", ts.Add(time.Minute)),
		price("CU_BARE", pricing.SourceScrapRegister, "3.70", ts),
	})

	require.Len(t, latest, 2)
	assert.Equal(t, pricing.MetalSlug("CU_BARE"), latest[0].Metal)
	assert.Equal(t, pricing.SourceDealerManual, latest[0].Source)
	assert.Equal(t, "USD", latest[0].Currency)
	assert.Equal(t, pricing.MetalSlug("HMS1"), latest[1].Metal)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	require.NoError(t, p.Publish(context.Background(), []pricing.PriceObservation{price("LEAD", "x", "1", ts)}))
	_, ok, err := p.Latest(context.Background(), "LEAD")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, p.Close())

	disabled, err := New(context.Background(), config.CacheConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, disabled)
}

func TestPublisherAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	p, err := New(ctx, config.CacheConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), TTL: time.Minute}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Publish(ctx, []pricing.PriceObservation{
		price("CU_BARE", pricing.SourceIScrap, "3.85", ts),
	}))

	got, ok, err := p.Latest(ctx, "CU_BARE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(decimal.RequireFromString("3.85")))
	assert.Equal(t, ts, got.ObservedAt)

	_, ok, err = p.Latest(ctx, "ZORBA")
	require.NoError(t, err)
	assert.False(t, ok)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer client.Close()
	ttl, err := client.TTL(ctx, Key("CU_BARE")).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
