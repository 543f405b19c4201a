package pnl

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultEMAWindow = 5 * time.Minute

var _two = decimal.NewFromInt(2)

type sample struct {
	at    time.Time
	price decimal.Decimal
}

// EMA is an exponential moving average over the samples of a sliding time
// window. The smoothing factor k = 2/(n+1) follows the number of samples
// currently in the window.
type EMA struct {
	window  time.Duration
	samples []sample
	value   decimal.Decimal
	now     func() time.Time
}

func NewEMA(window time.Duration, now func() time.Time) *EMA {
	if window <= 0 {
		window = DefaultEMAWindow
	}
	if now == nil {
		now = time.Now
	}
	return &EMA{window: window, now: now}
}

// Add records a sample and recomputes the average.
func (e *EMA) Add(price decimal.Decimal) {
	now := e.now()
	e.samples = append(e.samples, sample{at: now, price: price})
	e.evict(now)
	e.recompute()
}

func (e *EMA) evict(now time.Time) {
	cutoff := now.Add(-e.window)
	drop := 0
	for drop < len(e.samples) && e.samples[drop].at.Before(cutoff) {
		drop++
	}

	if drop > 0 {
		e.samples = append(e.samples[:0], e.samples[drop:]...)
	}
}

func (e *EMA) recompute() {
	n := len(e.samples)
	if n == 0 {
		e.value = decimal.Zero
		return
	}

	k := _two.Div(decimal.NewFromInt(int64(n + 1)))
	rest := decimal.NewFromInt(1).Sub(k)

	ema := e.samples[0].price
	for _, s := range e.samples[1:] {
		ema = s.price.Mul(k).Add(ema.Mul(rest))
	}
	e.value = ema
}

// Value returns the average, false while no sample is in the window.
func (e *EMA) Value() (decimal.Decimal, bool) {
	if len(e.samples) == 0 {
		return decimal.Zero, false
	}
	return e.value, true
}

// Len returns the number of samples in the window.
func (e *EMA) Len() int {
	return len(e.samples)
}
