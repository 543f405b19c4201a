package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"marketmaker/internal/enum"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCheckerLimits(t *testing.T) {
	view := View{Position: d("1"), ReferencePrice: d("100"), Now: time.Unix(1, 0)}

	testCases := []struct {
		desc   string
		limits Limits
		intent Intent
		reason Reason
	}{
		{"allow", Limits{}, Intent{enum.SideBid, d("100"), d("1")}, ReasonNone},
		{"kill switch", Limits{KillSwitch: true}, Intent{enum.SideBid, d("100"), d("1")}, ReasonKillSwitch},
		{"max size", Limits{MaxOrderSize: d("0.5")}, Intent{enum.SideBid, d("100"), d("1")}, ReasonMaxSize},
		{"price band", Limits{MaxPriceDeviationBps: 50}, Intent{enum.SideAsk, d("100.6"), d("1")}, ReasonPriceBand},
		{"inside band", Limits{MaxPriceDeviationBps: 50}, Intent{enum.SideAsk, d("100.5"), d("1")}, ReasonNone},
		{"max notional", Limits{MaxOrderNotional: d("150")}, Intent{enum.SideBid, d("100"), d("2")}, ReasonMaxNotional},
		{"position limit", Limits{MaxPosition: d("2")}, Intent{enum.SideBid, d("100"), d("1.5")}, ReasonPositionLimit},
		{"reducing within position limit", Limits{MaxPosition: d("2")}, Intent{enum.SideAsk, d("100"), d("2.5")}, ReasonNone},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := NewChecker(tc.limits).Check(tc.intent, view)
			assert.Equal(t, tc.reason, got.Reason)
			assert.Equal(t, tc.reason == ReasonNone, got.Allowed)
		})
	}
}

func TestCheckerRateWindow(t *testing.T) {
	c := NewChecker(Limits{OrderRateLimit: 2, OrderRateWindow: time.Second})
	in := Intent{enum.SideBid, d("100"), d("1")}
	start := time.Unix(100, 0)

	assert.True(t, c.Check(in, View{Now: start}).Allowed)
	assert.True(t, c.Check(in, View{Now: start.Add(100 * time.Millisecond)}).Allowed)
	assert.Equal(t, ReasonRateLimit, c.Check(in, View{Now: start.Add(200 * time.Millisecond)}).Reason)
	assert.True(t, c.Check(in, View{Now: start.Add(time.Second)}).Allowed)
}

func TestReduces(t *testing.T) {
	assert.True(t, Reduces(d("1"), Intent{Side: enum.SideAsk, Size: d("0.5")}))
	assert.True(t, Reduces(d("1"), Intent{Side: enum.SideAsk, Size: d("1")}))
	assert.False(t, Reduces(d("1"), Intent{Side: enum.SideAsk, Size: d("1.5")}))
	assert.False(t, Reduces(d("1"), Intent{Side: enum.SideBid, Size: d("0.1")}))
	assert.True(t, Reduces(d("-2"), Intent{Side: enum.SideBid, Size: d("1")}))
	assert.False(t, Reduces(decimal.Zero, Intent{Side: enum.SideBid, Size: d("1")}))
}
