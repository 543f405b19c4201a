package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

var _bps = decimal.NewFromInt(10_000)

// Limits are pre-trade checks applied to new and replace requests. Zero
// values disable a check.
type Limits struct {
	KillSwitch           bool            `json:"killSwitch"`
	MaxOrderSize         decimal.Decimal `json:"maxOrderSize"`
	MaxOrderNotional     decimal.Decimal `json:"maxOrderNotional"`
	MaxPosition          decimal.Decimal `json:"maxPosition"`
	OrderRateLimit       int             `json:"orderRateLimit"`
	OrderRateWindow      time.Duration   `json:"orderRateWindow"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps"`
}

// Intent is an order about to be requested.
type Intent struct {
	Side  enum.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// View provides the state the checks need.
type View struct {
	Position       decimal.Decimal
	ReferencePrice decimal.Decimal
	Now            time.Time
}

// Reason explains a denial.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonRateLimit
	ReasonMaxSize
	ReasonPriceBand
	ReasonMaxNotional
	ReasonPositionLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonRateLimit:
		return "rate_limit"
	case ReasonMaxSize:
		return "max_size"
	case ReasonPriceBand:
		return "price_band"
	case ReasonMaxNotional:
		return "max_notional"
	case ReasonPositionLimit:
		return "position_limit"
	default:
		return "unknown"
	}
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

// Checker evaluates Limits. The rate window is stateful, so one Checker
// belongs to one caller.
type Checker struct {
	cfg         Limits
	windowStart time.Time
	count       int
}

func NewChecker(cfg Limits) *Checker {
	return &Checker{cfg: cfg}
}

// Update swaps the limits, keeping the current rate window.
func (c *Checker) Update(cfg Limits) {
	c.cfg = cfg
}

func (c *Checker) Limits() Limits {
	return c.cfg
}

// Check applies the limits to an intent.
func (c *Checker) Check(in Intent, v View) Decision {
	now := v.Now
	if now.IsZero() {
		now = time.Now()
	}

	if c.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if c.cfg.OrderRateLimit > 0 && c.cfg.OrderRateWindow > 0 {
		if c.windowStart.IsZero() || now.Sub(c.windowStart) >= c.cfg.OrderRateWindow {
			c.windowStart = now
			c.count = 0
		}
		c.count++
		if c.count > c.cfg.OrderRateLimit {
			return deny(ReasonRateLimit)
		}
	}

	if c.cfg.MaxOrderSize.IsPositive() && in.Size.GreaterThan(c.cfg.MaxOrderSize) {
		return deny(ReasonMaxSize)
	}

	if c.cfg.MaxPriceDeviationBps > 0 && in.Price.IsPositive() && v.ReferencePrice.IsPositive() {
		diff := in.Price.Sub(v.ReferencePrice).Abs()
		band := v.ReferencePrice.Mul(decimal.NewFromInt(c.cfg.MaxPriceDeviationBps)).Div(_bps)
		if diff.GreaterThan(band) {
			return deny(ReasonPriceBand)
		}
	}

	if c.cfg.MaxOrderNotional.IsPositive() && in.Price.Mul(in.Size).Abs().GreaterThan(c.cfg.MaxOrderNotional) {
		return deny(ReasonMaxNotional)
	}

	next := v.Position.Add(in.Size.Mul(in.Side.SignDecimal()))
	if c.cfg.MaxPosition.IsPositive() && next.Abs().GreaterThan(c.cfg.MaxPosition) {
		return deny(ReasonPositionLimit)
	}

	return Decision{Allowed: true}
}

// Reduces reports whether filling the intent would shrink the absolute position.
func Reduces(position decimal.Decimal, in Intent) bool {
	if position.IsZero() {
		return false
	}

	next := position.Add(in.Size.Mul(in.Side.SignDecimal()))
	return next.Abs().LessThan(position.Abs()) && next.Sign()*position.Sign() >= 0
}
