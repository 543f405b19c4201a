package pnl

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/book"
	"marketmaker/internal/enum"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func TestPositionMath(t *testing.T) {
	long := NewFill(enum.SideBid, d("0.07"), d("900"))
	requireDecimal(t, "0.07", long.Quantity)
	requireDecimal(t, "-63", long.Balance)
	requireDecimal(t, "900", long.Price())
	assert.Equal(t, enum.SideBid, long.Side())

	exit := long.OppositeWithPrice(d("989"))
	assert.Equal(t, enum.SideAsk, exit.Side())
	requireDecimal(t, "989", exit.Price())

	flat := long.Add(exit)
	assert.True(t, flat.IsFlat())
	requireDecimal(t, "6.23", flat.Balance)

	margin := long.Opposite().WithMargin(d("0.01"))
	requireDecimal(t, "63.01", margin.Balance)
	assert.Equal(t, "900.1429", margin.Price().StringFixed(4))
}

func TestExecutionCrystallizesClosedPnL(t *testing.T) {
	l := NewLedger(d("0.3"))

	require.True(t, l.Execution(enum.SideBid, d("1"), d("100"), decimal.Zero))
	require.True(t, l.Execution(enum.SideBid, d("1"), d("102"), decimal.Zero))
	requireDecimal(t, "2", l.Position())
	requireDecimal(t, "-202", l.Balance())
	requireDecimal(t, "101", l.PositionZeroPrice())

	require.True(t, l.Execution(enum.SideAsk, d("2"), d("103"), d("0.5")))
	requireDecimal(t, "0", l.Position())
	requireDecimal(t, "0", l.Balance())
	requireDecimal(t, "3.5", l.ClosedPnL())

	s := l.Summary()
	assert.Equal(t, uint64(3), s.Fills)
	requireDecimal(t, "4", s.Volume)
	requireDecimal(t, "0.5", s.Fees)
}

func TestExecutionIgnoresNonPositiveDelta(t *testing.T) {
	l := NewLedger(decimal.Zero)
	assert.False(t, l.Execution(enum.SideBid, decimal.Zero, d("100"), decimal.Zero))
	assert.False(t, l.Execution(enum.SideBid, d("-1"), d("100"), decimal.Zero))
	assert.True(t, l.Position().IsZero())
}

func TestOffsettingFillsCommute(t *testing.T) {
	type fill struct {
		side        enum.Side
		size, price string
		fee         string
	}

	fills := []fill{
		{enum.SideBid, "0.5", "100.1", "0.01"},
		{enum.SideBid, "0.25", "99.9", "0.02"},
		{enum.SideAsk, "0.4", "101.3", "0"},
		{enum.SideAsk, "0.35", "100.7", "0.03"},
	}

	want := decimal.Zero
	for _, f := range fills {
		signed := d(f.size).Mul(f.side.SignDecimal())
		want = want.Sub(signed.Mul(d(f.price))).Sub(d(f.fee))
	}

	rng := rand.New(rand.NewSource(7))
	for range 20 {
		rng.Shuffle(len(fills), func(i, j int) { fills[i], fills[j] = fills[j], fills[i] })

		l := NewLedger(decimal.Zero)
		for _, f := range fills {
			l.Execution(f.side, d(f.size), d(f.price), d(f.fee))
		}

		assert.True(t, l.Position().IsZero())
		requireDecimal(t, want.String(), l.ClosedPnL())
	}
}

func TestMarks(t *testing.T) {
	l := NewLedger(d("0.5"))
	l.QuoteChanged(book.Level{Side: enum.SideBid, Price: d("99"), Size: d("1")})
	l.QuoteChanged(book.Level{Side: enum.SideAsk, Price: d("101"), Size: d("1")})

	nbbo, ok := l.NBBOPnL()
	require.True(t, ok)
	assert.True(t, nbbo.IsZero())

	l.Execution(enum.SideBid, d("2"), d("100"), decimal.Zero)
	requireDecimal(t, "2", l.OpenPnL(d("101")))

	nbbo, ok = l.NBBOPnL()
	require.True(t, ok)
	requireDecimal(t, "2", nbbo)

	take, ok := l.TakePnL()
	require.True(t, ok)
	requireDecimal(t, "-2.99", take)

	mid, ok := l.Mid()
	require.True(t, ok)
	requireDecimal(t, "100", mid)
}

func TestMarksNeedQuotes(t *testing.T) {
	l := NewLedger(decimal.Zero)
	l.Execution(enum.SideAsk, d("1"), d("100"), decimal.Zero)

	_, ok := l.NBBOPnL()
	assert.False(t, ok)
	_, ok = l.TakePnL()
	assert.False(t, ok)

	s := l.Summary()
	assert.Nil(t, s.NBBOPnL)
	assert.Nil(t, s.EMA)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestEMAWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := NewEMA(time.Minute, clock.Now)

	_, ok := e.Value()
	assert.False(t, ok)

	e.Add(d("100"))
	v, _ := e.Value()
	requireDecimal(t, "100", v)

	clock.now = clock.now.Add(10 * time.Second)
	e.Add(d("103"))
	v, _ = e.Value()
	requireDecimal(t, "102", v.Round(8))
	assert.Equal(t, 2, e.Len())

	clock.now = clock.now.Add(55 * time.Second)
	e.Add(d("110"))
	assert.Equal(t, 2, e.Len())
	v, _ = e.Value()
	requireDecimal(t, "107.66666667", v.Round(8))
}

func TestLedgerFeedsEMAFromQuotes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := NewLedger(decimal.Zero, WithClock(clock.Now), WithEMAWindow(time.Minute))

	l.QuoteChanged(book.Level{Side: enum.SideBid, Price: d("99"), Size: d("1")})
	_, ok := l.EMA()
	assert.False(t, ok)

	l.QuoteChanged(book.Level{Side: enum.SideAsk, Price: d("101"), Size: d("1")})
	ema, ok := l.EMA()
	require.True(t, ok)
	requireDecimal(t, "100", ema)

	l.ResetQuotes()
	_, ok = l.Mid()
	assert.False(t, ok)
}
