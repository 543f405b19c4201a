package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/audit"
	"marketmaker/internal/book"
	"marketmaker/internal/broker"
	"marketmaker/internal/enum"
	"marketmaker/internal/order"
	"marketmaker/internal/pnl"
)

func testParams() Params {
	return Params{
		OrderSize:      [2]decimal.Decimal{d("1"), d("1")},
		LiqBehind:      [2]decimal.Decimal{d("2"), d("2")},
		EMAWorkPerc:    d("1"),
		MaxPosition:    d("3"),
		HedgePerc:      d("1"),
		MinProfit:      d("0.01"),
		PriceTolerance: decimal.Zero,
		MinLevels:      3,
		TickSize:       tick,
		MinOrderSize:   d("0.1"),
	}
}

type fixture struct {
	ledger *order.Ledger
	pnl    *pnl.Ledger
	mm     *MarketMaker
}

func newFixture(b *book.Book) fixture {
	p := pnl.NewLedger(decimal.Zero)
	b.Subscribe(p)
	l := order.NewLedger()
	br := broker.New(l, p, nil)
	return fixture{
		ledger: l,
		pnl:    p,
		mm:     NewMarketMaker(Env{Book: b, PnL: p, Broker: br}, testParams()),
	}
}

// fixtureWithBook subscribes the ledger before the levels arrive so the EMA
// sees the first valid mid.
func fixtureWithBook() fixture {
	b := book.New()
	f := newFixture(b)
	for _, lvl := range sampleBook().Top(0).Bids {
		b.IncrementLevel(lvl.Side, lvl.Price, lvl.Size)
	}
	for _, lvl := range sampleBook().Top(0).Asks {
		b.IncrementLevel(lvl.Side, lvl.Price, lvl.Size)
	}
	return f
}

func TestFlatQuotesBothSidesByEMA(t *testing.T) {
	f := fixtureWithBook()
	ema, ok := f.pnl.EMA()
	require.True(t, ok)
	assertDecimal(t, "100.5", ema)

	f.mm.OnMarketData()

	reqs := f.ledger.Drain()
	require.Len(t, reqs, 2)
	assert.Equal(t, enum.SideBid, reqs[0].Side)
	assertDecimal(t, "99", reqs[0].Price)
	assertDecimal(t, "1", reqs[0].Size)
	assert.Equal(t, enum.SideAsk, reqs[1].Side)
	assertDecimal(t, "102", reqs[1].Price)

	f.mm.OnMarketData()
	assert.Zero(t, f.ledger.Queued())
}

func TestExitTargets(t *testing.T) {
	testCases := []struct {
		desc   string
		entry  string
		method Method
		price  string
	}{
		{"remove when taking is profitable", "95", MethodRemove, "100"},
		{"quote at depth", "100", MethodQuote, "102"},
		{"min profit", "105", MethodMinProfit, "105.5"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := fixtureWithBook()
			f.pnl.Execution(enum.SideBid, d("1"), d(tc.entry), decimal.Zero)

			p := f.mm.Params()
			q := f.mm.Target(enum.SideAsk, &p)
			assert.Equal(t, tc.method, q.Method)
			assertDecimal(t, tc.price, q.Price)
			assertDecimal(t, "1", q.Size)
		})
	}
}

func TestHedgeTarget(t *testing.T) {
	f := fixtureWithBook()
	f.pnl.Execution(enum.SideBid, d("1"), d("100"), decimal.Zero)

	p := f.mm.Params()
	q := f.mm.Target(enum.SideBid, &p)
	assert.Equal(t, MethodHedge, q.Method)
	assertDecimal(t, "98", q.Price)
	assertDecimal(t, "1", q.Size)

	p.MaxPosition = d("1")
	q = f.mm.Target(enum.SideBid, &p)
	assert.Equal(t, MethodCancel, q.Method)
}

func TestThinBookCancels(t *testing.T) {
	f := fixtureWithBook()
	p := f.mm.Params()
	p.MinLevels = 4
	assert.Equal(t, MethodCancel, f.mm.Target(enum.SideBid, &p).Method)

	f2 := newFixture(book.New())
	p = f2.mm.Params()
	assert.Equal(t, MethodCancel, f2.mm.Target(enum.SideAsk, &p).Method)
}

func TestGapCancelsAcknowledgedQuotes(t *testing.T) {
	f := fixtureWithBook()
	f.mm.OnMarketData()
	for i, req := range f.ledger.Drain() {
		_, err := f.ledger.MarketEvent(order.Acknowledged{CorrelationID: req.CorrelationID, OrderID: string(rune('A' + i))})
		require.NoError(t, err)
	}

	f.mm.OnImportantEvent(audit.Event{Kind: audit.KindGap})
	reqs := f.ledger.Drain()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		assert.Equal(t, order.RequestCancel, req.Kind)
	}
}

func TestSetParamsTakesEffect(t *testing.T) {
	f := fixtureWithBook()
	p := testParams()
	p.OrderSize = [2]decimal.Decimal{d("0.05"), d("0.05")}
	f.mm.SetParams(p)

	f.mm.OnMarketData()
	assert.Zero(t, f.ledger.Queued())
}

func TestNoopSatisfiesStrategy(t *testing.T) {
	var s Strategy = Noop{}
	s.OnMarketData()
	s.OnExecution(Fill{})
	s.OnImportantEvent(audit.Event{})
}
