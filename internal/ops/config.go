package ops

import (
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"marketmaker/internal/risk"
	"marketmaker/internal/sim"
	"marketmaker/internal/strategy"
	"marketmaker/internal/venue"
	"marketmaker/pkg/conn"
	"marketmaker/pkg/exception"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Venue       VenueConfig       `json:"venue"`
	Asset       AssetConfig       `json:"asset"`
	MarketMaker MarketMakerConfig `json:"marketmaker"`
	Risk        RiskConfig        `json:"risk"`
	Engine      EngineConfig      `json:"engine"`
	Observer    ObserverConfig    `json:"observer"`
	Audit       AuditConfig       `json:"audit"`
	Sim         SimConfig         `json:"sim"`
}

// VenueConfig describes the venue connection and its trading rules.
type VenueConfig struct {
	URL             string          `json:"url"`
	Key             string          `json:"key"`
	Secret          string          `json:"secret"`
	TakerFeePercent decimal.Decimal `json:"taker_fee_percent"`
	TickSize        decimal.Decimal `json:"tick_size"`
	MinOrderSize    decimal.Decimal `json:"min_order_size"`
	Depth           int             `json:"depth"`
	WriteRate       float64         `json:"write_rate"`
	WriteBurst      int             `json:"write_burst"`
	Backoff         *BackoffConfig  `json:"backoff"`
}

// BackoffConfig overrides the reconnect backoff.
type BackoffConfig struct {
	Min    Duration `json:"min"`
	Max    Duration `json:"max"`
	Factor float64  `json:"factor"`
	Jitter float64  `json:"jitter"`
}

// AssetConfig names the traded pair.
type AssetConfig struct {
	Crypto   string `json:"crypto"`
	Currency string `json:"currency"`
}

// SidePair holds a per side value.
type SidePair struct {
	Bid decimal.Decimal `json:"BID"`
	Ask decimal.Decimal `json:"ASK"`
}

// MarketMakerConfig holds the strategy parameters.
type MarketMakerConfig struct {
	OrderSize      SidePair        `json:"order_size"`
	LiqBehind      SidePair        `json:"liq_behind"`
	EMAWorkPerc    decimal.Decimal `json:"ema_work_perc"`
	MaxPosition    decimal.Decimal `json:"max_position"`
	HedgePerc      decimal.Decimal `json:"hedge_perc"`
	MinProfit      decimal.Decimal `json:"min_profit"`
	PriceTolerance decimal.Decimal `json:"price_tolerance"`
	MinLevels      int             `json:"min_levels"`
}

// RiskConfig holds the pre-trade limits.
type RiskConfig struct {
	KillSwitch           bool            `json:"kill_switch"`
	MaxOrderSize         decimal.Decimal `json:"max_order_size"`
	MaxOrderNotional     decimal.Decimal `json:"max_order_notional"`
	MaxPosition          decimal.Decimal `json:"max_position"`
	OrderRateLimit       int             `json:"order_rate_limit"`
	OrderRateWindow      Duration        `json:"order_rate_window"`
	MaxPriceDeviationBps int64           `json:"max_price_deviation_bps"`
}

// EngineConfig tunes the event loop.
type EngineConfig struct {
	QueueSize        int      `json:"queue_size"`
	SnapshotInterval Duration `json:"snapshot_interval"`
	PruneInterval    Duration `json:"prune_interval"`
	EMAWindow        Duration `json:"ema_window"`
}

// ObserverConfig describes the read-only HTTP surface.
type ObserverConfig struct {
	Enabled      *bool    `json:"enabled"`
	Addr         string   `json:"addr"`
	PushInterval Duration `json:"push_interval"`
}

// AuditConfig selects where important events are persisted.
type AuditConfig struct {
	BufferLimit int             `json:"buffer_limit"`
	Postgres    *PostgresConfig `json:"postgres"`
	Kafka       *KafkaConfig    `json:"kafka"`
}

// PostgresConfig is the audit table connection.
type PostgresConfig struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	User       string            `json:"user"`
	Password   string            `json:"password"`
	Database   string            `json:"database"`
	SSLMode    string            `json:"sslmode"`
	Params     map[string]string `json:"params"`
	ConnString string            `json:"conn_string"`

	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
}

// KafkaConfig is the audit topic.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// SimConfig tunes the paper venue.
type SimConfig struct {
	Seed       int64           `json:"seed"`
	Mid        decimal.Decimal `json:"mid"`
	Spread     decimal.Decimal `json:"spread"`
	Volatility decimal.Decimal `json:"volatility"`
	Levels     int             `json:"levels"`
	Tick       Duration        `json:"tick"`
	Chaos      sim.ChaosConfig `json:"chaos"`
}

// Duration is a time.Duration written as a Go duration string, or as
// nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*d = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		v, err := time.ParseDuration(strings.Trim(s, `"`))
		if err != nil {
			return errors.Wrapf(err, "parse duration %s", s)
		}
		*d = Duration(v)
		return nil
	}
	var ns int64
	if err := sonic.UnmarshalString(s, &ns); err != nil {
		return errors.Wrapf(err, "parse duration %s", s)
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Venue           venue.Config
	TakerFeePercent decimal.Decimal
	Strategy        strategy.Params
	Limits          risk.Limits
	Engine          EngineSpec
	Observer        ObserverSpec
	Audit           AuditSpec
	Sim             sim.Config
}

// EngineSpec is the resolved event loop tuning.
type EngineSpec struct {
	QueueSize        int
	SnapshotInterval time.Duration
	PruneInterval    time.Duration
	EMAWindow        time.Duration
}

// ObserverSpec is the resolved observer setting.
type ObserverSpec struct {
	Enabled      bool
	Addr         string
	PushInterval time.Duration
}

// AuditSpec is the resolved audit setting. Nil sinks are disabled.
type AuditSpec struct {
	BufferLimit int
	Postgres    *conn.Option
	Kafka       *KafkaConfig
}

// Market names the pair for audit rows and metrics.
func (l Loaded) Market() string {
	return l.Venue.Pair.String()
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse resolves a JSON config document.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "unmarshal config")
	}
	return Resolve(cfg)
}

// Resolve validates a config and fills defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	pair, err := resolvePair(cfg.Asset)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Venue.TakerFeePercent.IsNegative() {
		return Loaded{}, errors.Wrap(exception.ErrInvalidArgument, "venue taker_fee_percent must be >= 0")
	}
	params, err := resolveStrategy(cfg.MarketMaker, cfg.Venue)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Venue:           resolveVenue(cfg.Venue, pair),
		TakerFeePercent: cfg.Venue.TakerFeePercent,
		Strategy:        params,
		Limits:          resolveLimits(cfg.Risk),
		Engine:          resolveEngine(cfg.Engine),
		Observer:        resolveObserver(cfg.Observer),
		Audit:           resolveAudit(cfg.Audit),
		Sim:             resolveSim(cfg.Sim, pair),
	}, nil
}

// RequireLive checks the settings only the live venue needs.
func (l Loaded) RequireLive() error {
	if l.Venue.URL == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "venue url is empty")
	}
	if (l.Venue.Key == "") != (l.Venue.Secret == "") {
		return errors.Wrap(exception.ErrInvalidArgument, "venue key and secret must be set together")
	}
	return nil
}

func resolvePair(cfg AssetConfig) (venue.Pair, error) {
	if cfg.Crypto == "" || cfg.Currency == "" {
		return venue.Pair{}, errors.Wrap(exception.ErrInvalidArgument, "asset crypto and currency are required")
	}
	return venue.Pair{Crypto: strings.ToUpper(cfg.Crypto), Currency: strings.ToUpper(cfg.Currency)}, nil
}

func resolveVenue(cfg VenueConfig, pair venue.Pair) venue.Config {
	out := venue.Config{
		URL:        cfg.URL,
		Key:        cfg.Key,
		Secret:     cfg.Secret,
		Pair:       pair,
		Depth:      cfg.Depth,
		WriteRate:  cfg.WriteRate,
		WriteBurst: cfg.WriteBurst,
	}
	if cfg.Backoff != nil {
		out.Backoff = venue.Backoff{
			Min:    cfg.Backoff.Min.Std(),
			Max:    cfg.Backoff.Max.Std(),
			Factor: cfg.Backoff.Factor,
			Jitter: cfg.Backoff.Jitter,
		}
	}
	return out
}

func resolveStrategy(cfg MarketMakerConfig, v VenueConfig) (strategy.Params, error) {
	if !cfg.OrderSize.Bid.IsPositive() || !cfg.OrderSize.Ask.IsPositive() {
		return strategy.Params{}, errors.Wrap(exception.ErrInvalidArgument, "marketmaker order_size must be > 0 on both sides")
	}
	if cfg.LiqBehind.Bid.IsNegative() || cfg.LiqBehind.Ask.IsNegative() {
		return strategy.Params{}, errors.Wrap(exception.ErrInvalidArgument, "marketmaker liq_behind must be >= 0")
	}
	if cfg.EMAWorkPerc.IsNegative() || cfg.HedgePerc.IsNegative() || cfg.PriceTolerance.IsNegative() {
		return strategy.Params{}, errors.Wrap(exception.ErrInvalidArgument, "marketmaker percentages must be >= 0")
	}
	if v.TickSize.IsNegative() || v.MinOrderSize.IsNegative() {
		return strategy.Params{}, errors.Wrap(exception.ErrInvalidArgument, "venue tick_size and min_order_size must be >= 0")
	}
	minLevels := cfg.MinLevels
	if minLevels <= 0 {
		minLevels = 1
	}
	return strategy.Params{
		OrderSize:      [2]decimal.Decimal{cfg.OrderSize.Bid, cfg.OrderSize.Ask},
		LiqBehind:      [2]decimal.Decimal{cfg.LiqBehind.Bid, cfg.LiqBehind.Ask},
		EMAWorkPerc:    cfg.EMAWorkPerc,
		MaxPosition:    cfg.MaxPosition,
		HedgePerc:      cfg.HedgePerc,
		MinProfit:      cfg.MinProfit,
		PriceTolerance: cfg.PriceTolerance,
		MinLevels:      minLevels,
		TickSize:       v.TickSize,
		MinOrderSize:   v.MinOrderSize,
	}, nil
}

func resolveLimits(cfg RiskConfig) risk.Limits {
	limits := risk.Limits{
		KillSwitch:           cfg.KillSwitch,
		MaxOrderSize:         cfg.MaxOrderSize,
		MaxOrderNotional:     cfg.MaxOrderNotional,
		MaxPosition:          cfg.MaxPosition,
		OrderRateLimit:       cfg.OrderRateLimit,
		OrderRateWindow:      cfg.OrderRateWindow.Std(),
		MaxPriceDeviationBps: cfg.MaxPriceDeviationBps,
	}
	if limits.OrderRateLimit > 0 && limits.OrderRateWindow <= 0 {
		limits.OrderRateWindow = time.Second
	}
	return limits
}

func resolveEngine(cfg EngineConfig) EngineSpec {
	spec := EngineSpec{
		QueueSize:        cfg.QueueSize,
		SnapshotInterval: cfg.SnapshotInterval.Std(),
		PruneInterval:    cfg.PruneInterval.Std(),
		EMAWindow:        cfg.EMAWindow.Std(),
	}
	if spec.QueueSize <= 0 {
		spec.QueueSize = 4096
	}
	if spec.SnapshotInterval <= 0 {
		spec.SnapshotInterval = time.Second
	}
	if spec.PruneInterval <= 0 {
		spec.PruneInterval = time.Minute
	}
	return spec
}

func resolveObserver(cfg ObserverConfig) ObserverSpec {
	spec := ObserverSpec{
		Enabled:      true,
		Addr:         cfg.Addr,
		PushInterval: cfg.PushInterval.Std(),
	}
	if cfg.Enabled != nil {
		spec.Enabled = *cfg.Enabled
	}
	if spec.Addr == "" {
		spec.Addr = ":8080"
	}
	if spec.PushInterval <= 0 {
		spec.PushInterval = time.Second
	}
	return spec
}

func resolveAudit(cfg AuditConfig) AuditSpec {
	spec := AuditSpec{BufferLimit: cfg.BufferLimit}
	if pg := cfg.Postgres; pg != nil {
		spec.Postgres = &conn.Option{
			Host:       pg.Host,
			Port:       pg.Port,
			User:       pg.User,
			Password:   pg.Password,
			Database:   pg.Database,
			SSLMode:    pg.SSLMode,
			Params:     pg.Params,
			ConnString: pg.ConnString,

			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime.Std(),
		}
	}
	if k := cfg.Kafka; k != nil && len(k.Brokers) != 0 && k.Topic != "" {
		spec.Kafka = k
	}
	return spec
}

func resolveSim(cfg SimConfig, pair venue.Pair) sim.Config {
	return sim.Config{
		Pair:       pair,
		Seed:       cfg.Seed,
		Mid:        cfg.Mid,
		Spread:     cfg.Spread,
		Volatility: cfg.Volatility,
		Levels:     cfg.Levels,
		Tick:       cfg.Tick.Std(),
		Chaos:      cfg.Chaos,
	}
}
