package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/pkg/exception"
)

const sampleConfig = `{
  "venue": {
    "url": "wss://ws.cex.io/ws",
    "key": "k",
    "secret": "s",
    "taker_fee_percent": "0.25",
    "tick_size": "0.1",
    "min_order_size": "0.01",
    "write_rate": 5,
    "backoff": {"min": "100ms", "max": "2s", "factor": 2}
  },
  "asset": {"crypto": "btc", "currency": "usd"},
  "marketmaker": {
    "order_size": {"BID": "0.5", "ASK": 0.4},
    "liq_behind": {"BID": "3", "ASK": "2"},
    "ema_work_perc": "1",
    "max_position": "2",
    "hedge_perc": "0.5",
    "min_profit": "0.2",
    "price_tolerance": "0.05",
    "min_levels": 3
  },
  "risk": {"max_order_size": "1", "order_rate_limit": 10, "order_rate_window": "2s"},
  "engine": {"snapshot_interval": 500000000},
  "observer": {"enabled": false, "addr": ":9000"},
  "audit": {"kafka": {"brokers": ["localhost:9092"], "topic": "mm-events"}},
  "sim": {"mid": "1300", "tick": "250ms", "chaos": {"dropRate": 0.1}}
}`

func TestParseResolvesConfig(t *testing.T) {
	loaded, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "BTC:USD", loaded.Market())
	assert.Equal(t, "wss://ws.cex.io/ws", loaded.Venue.URL)
	assert.Equal(t, 100*time.Millisecond, loaded.Venue.Backoff.Min)
	assert.Equal(t, 5.0, loaded.Venue.WriteRate)
	assert.True(t, loaded.TakerFeePercent.Equal(decimal.RequireFromString("0.25")))

	p := loaded.Strategy
	assert.True(t, p.OrderSize[0].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, p.OrderSize[1].Equal(decimal.RequireFromString("0.4")))
	assert.True(t, p.LiqBehind[1].Equal(decimal.NewFromInt(2)))
	assert.True(t, p.TickSize.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 3, p.MinLevels)

	assert.Equal(t, 10, loaded.Limits.OrderRateLimit)
	assert.Equal(t, 2*time.Second, loaded.Limits.OrderRateWindow)

	assert.Equal(t, 500*time.Millisecond, loaded.Engine.SnapshotInterval)
	assert.Equal(t, time.Minute, loaded.Engine.PruneInterval)
	assert.False(t, loaded.Observer.Enabled)
	assert.Equal(t, ":9000", loaded.Observer.Addr)

	assert.Nil(t, loaded.Audit.Postgres)
	require.NotNil(t, loaded.Audit.Kafka)
	assert.Equal(t, "mm-events", loaded.Audit.Kafka.Topic)

	assert.Equal(t, 250*time.Millisecond, loaded.Sim.Tick)
	assert.Equal(t, 0.1, loaded.Sim.Chaos.DropRate)
	assert.Equal(t, "BTC", loaded.Sim.Pair.Crypto)
	assert.NoError(t, loaded.RequireLive())
}

func TestResolveDefaults(t *testing.T) {
	loaded, err := Resolve(FileConfig{
		Asset: AssetConfig{Crypto: "ETH", Currency: "EUR"},
		MarketMaker: MarketMakerConfig{
			OrderSize: SidePair{Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(1)},
		},
	})
	require.NoError(t, err)
	assert.True(t, loaded.Observer.Enabled)
	assert.Equal(t, ":8080", loaded.Observer.Addr)
	assert.Equal(t, 4096, loaded.Engine.QueueSize)
	assert.Equal(t, 1, loaded.Strategy.MinLevels)
	assert.ErrorIs(t, loaded.RequireLive(), exception.ErrInvalidArgument)
}

func TestResolveRejectsInvalid(t *testing.T) {
	valid := func() FileConfig {
		return FileConfig{
			Asset: AssetConfig{Crypto: "BTC", Currency: "USD"},
			MarketMaker: MarketMakerConfig{
				OrderSize: SidePair{Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(1)},
			},
		}
	}

	testCases := []struct {
		desc   string
		mutate func(*FileConfig)
	}{
		{"missing asset", func(c *FileConfig) { c.Asset.Currency = "" }},
		{"zero order size", func(c *FileConfig) { c.MarketMaker.OrderSize.Ask = decimal.Zero }},
		{"negative fee", func(c *FileConfig) { c.Venue.TakerFeePercent = decimal.NewFromInt(-1) }},
		{"negative tick", func(c *FileConfig) { c.Venue.TickSize = decimal.NewFromInt(-1) }},
		{"negative liq behind", func(c *FileConfig) { c.MarketMaker.LiqBehind.Bid = decimal.NewFromInt(-1) }},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			_, err := Resolve(cfg)
			assert.ErrorIs(t, err, exception.ErrInvalidArgument)
		})
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`{"asset":{"crypto":"BTC","currency":"USD"},"engine":{"prune_interval":"soon"}}`))
	assert.Error(t, err)
}

func TestWatchReloadsChangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan Loaded, 4)
	go Watch(ctx, path, 10*time.Millisecond, func(l Loaded) { updates <- l })

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	select {
	case l := <-updates:
		assert.Equal(t, "BTC:USD", l.Market())
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	loaded, err := Load(filepath.Join("..", "..", "configs", "marketmaker.json"))
	require.NoError(t, err)
	assert.Equal(t, "BTC:USD", loaded.Market())
	assert.True(t, loaded.Observer.Enabled)
	assert.NoError(t, loaded.RequireLive())
}
