package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/internal/audit"
	"marketmaker/internal/book"
	"marketmaker/internal/broker"
	"marketmaker/internal/bus"
	"marketmaker/internal/obs"
	"marketmaker/internal/order"
	"marketmaker/internal/pnl"
	"marketmaker/internal/risk"
	"marketmaker/internal/strategy"
	"marketmaker/internal/venue"
)

const (
	defaultSnapshotInterval = time.Second
	defaultPruneInterval    = time.Minute
	defaultSnapshotDepth    = 10
)

var ErrStopped = errors.New("engine: stopped")

// Outbound delivers order requests to the venue. Send must not block.
type Outbound interface {
	Send(reqs []order.Request)
}

// Config tunes the engine.
type Config struct {
	Market           string
	TakerFeePercent  decimal.Decimal
	EMAWindow        time.Duration
	Limits           risk.Limits
	SnapshotInterval time.Duration
	SnapshotDepth    int
	PruneInterval    time.Duration
}

type Option func(*Engine)

// WithClock replaces time.Now for every component the engine owns.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator replaces the correlation id source of the order ledger.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// WithSnapshotSink receives a snapshot every SnapshotInterval.
func WithSnapshotSink(fn func(Snapshot)) Option {
	return func(e *Engine) {
		e.sink = fn
	}
}

// Engine owns all trading state and applies venue events one at a time on a
// single goroutine. Each event is applied completely, including the strategy
// reaction and the resulting outbound requests, before the next is taken.
type Engine struct {
	cfg      Config
	inbound  *bus.Queue[venue.Event]
	out      Outbound
	hub      *audit.Hub
	metrics  *obs.Metrics
	seq      *obs.SequenceGenerator
	now      func() time.Time
	newID    func() string
	sink     func(Snapshot)
	strategy strategy.Strategy

	book   *book.Book
	orders *order.Ledger
	pnl    *pnl.Ledger
	broker *broker.Broker

	// important events raised while applying the current event, delivered to
	// the strategy once the event is applied.
	pending []audit.Event

	snapshots chan chan Snapshot
	control   chan func()
	done      chan struct{}
}

func New(cfg Config, inbound *bus.Queue[venue.Event], out Outbound, hub *audit.Hub, metrics *obs.Metrics, opts ...Option) *Engine {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if cfg.SnapshotDepth <= 0 {
		cfg.SnapshotDepth = defaultSnapshotDepth
	}
	if hub == nil {
		hub = audit.NewHub(0)
	}

	e := &Engine{
		cfg:       cfg,
		inbound:   inbound,
		out:       out,
		hub:       hub,
		metrics:   metrics,
		seq:       obs.NewSequenceGenerator(0),
		now:       time.Now,
		strategy:  strategy.Noop{},
		snapshots: make(chan chan Snapshot),
		control:   make(chan func()),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	var ledgerOpts []order.Option
	if e.newID != nil {
		ledgerOpts = append(ledgerOpts, order.WithIDGenerator(e.newID))
	}
	pnlOpts := []pnl.Option{pnl.WithClock(e.now)}
	if cfg.EMAWindow > 0 {
		pnlOpts = append(pnlOpts, pnl.WithEMAWindow(cfg.EMAWindow))
	}

	e.book = book.New()
	e.orders = order.NewLedger(ledgerOpts...)
	e.pnl = pnl.NewLedger(cfg.TakerFeePercent, pnlOpts...)
	e.book.Subscribe(e.pnl)
	e.broker = broker.New(e.orders, e.pnl, e,
		broker.WithLimits(cfg.Limits),
		broker.WithReference(e.reference),
		broker.WithClock(e.now),
		broker.WithMetrics(metrics),
	)
	return e
}

// Env is what a strategy reads and trades through. Only use it on the engine
// goroutine, i.e. from Strategy callbacks.
func (e *Engine) Env() strategy.Env {
	return strategy.Env{Book: e.book, PnL: e.pnl, Broker: e.broker}
}

// SetStrategy installs the strategy. Call before Run.
func (e *Engine) SetStrategy(s strategy.Strategy) {
	if s == nil {
		s = strategy.Noop{}
	}
	e.strategy = s
}

// Record implements risk.Recorder: the event goes to the hub right away and to
// the strategy once the current event is applied.
func (e *Engine) Record(kind audit.Kind, details string) {
	e.hub.Record(kind, details)
	e.pending = append(e.pending, audit.Event{Time: e.now(), Kind: kind, Details: details})
}

func (e *Engine) reference() decimal.Decimal {
	mid, _ := e.pnl.Mid()
	return mid
}

// Run applies inbound events until ctx is done or the queue is closed.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	snapshotTicker := time.NewTicker(e.cfg.SnapshotInterval)
	defer snapshotTicker.Stop()
	pruneTicker := time.NewTicker(e.cfg.PruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-e.inbound.Chan():
			if !ok {
				return nil
			}
			e.Handle(ev)
		case reply := <-e.snapshots:
			reply <- e.snapshot()
		case fn := <-e.control:
			fn()
			e.settle()
		case <-pruneTicker.C:
			if n := e.orders.Prune(); n > 0 {
				logs.Infof("pruned %d completed orders", n)
			}
		case <-snapshotTicker.C:
			if e.sink != nil {
				e.sink(e.snapshot())
			}
		}
	}
}

// Do runs fn on the engine goroutine and flushes the requests it caused.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	select {
	case e.control <- fn:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a consistent read-only copy of the engine state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.snapshots <- reply:
	case <-e.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// SetLimits swaps the pre-trade limits.
func (e *Engine) SetLimits(ctx context.Context, l risk.Limits) error {
	return e.Do(ctx, func() { e.broker.SetLimits(l) })
}

// Halt moves the gate to CANCEL_ALL, cancelling every order.
func (e *Engine) Halt(ctx context.Context) error {
	return e.Do(ctx, e.broker.Gate().SetCancelAll)
}

// Resume moves the gate back to NORMAL.
func (e *Engine) Resume(ctx context.Context) error {
	return e.Do(ctx, e.broker.Gate().SetNormal)
}

// Handle applies one venue event. It must only be called from the engine
// goroutine; Run does so for queued events.
func (e *Engine) Handle(ev venue.Event) {
	start := time.Now()
	e.metrics.ObserveEvent(ev.Kind.MetricType(), ev.RecvTs)

	switch ev.Kind {
	case venue.KindBook:
		e.onBook(ev)
	case venue.KindGap:
		e.onGap(ev)
	case venue.KindOrder:
		e.onOrder(ev.Order)
	case venue.KindReconnected:
		e.onReconnected()
	default:
		logs.Warnf("skip venue event of kind %d", ev.Kind)
	}

	e.settle()
	e.metrics.ObserveDispatch(time.Since(start))
}

// settle notifies the strategy of important events, keeps cancelling while
// the gate is in CANCEL_ALL, and hands the queued requests to the venue.
func (e *Engine) settle() {
	for len(e.pending) > 0 {
		events := e.pending
		e.pending = nil
		for _, ev := range events {
			e.strategy.OnImportantEvent(ev)
		}
	}

	if e.broker.Gate().State() == risk.StateCancelAll {
		e.broker.CancelAll()
	}

	if reqs := e.orders.Drain(); len(reqs) > 0 {
		e.out.Send(reqs)
	}
}

func (e *Engine) onBook(ev venue.Event) {
	if ev.Full {
		e.book.Clear()
		e.pnl.ResetQuotes()
	}
	// A malformed side panics in the book.
	for _, d := range ev.Deltas {
		e.book.Apply(d)
	}
	if e.book.IsValid() {
		e.strategy.OnMarketData()
	}
}

func (e *Engine) onGap(ev venue.Event) {
	e.book.Clear()
	e.pnl.ResetQuotes()
	e.Record(audit.KindGap, fmt.Sprintf("book feed gap, %d updates lost", ev.Skipped))
}

func (e *Engine) onOrder(ev order.Event) {
	if ev == nil {
		return
	}

	res, err := e.orders.MarketEvent(ev)
	if err != nil {
		e.metrics.IncDesync()
		e.broker.Gate().Escalate(err)
		return
	}

	if rej, ok := ev.(order.ErrorEvent); ok {
		e.metrics.IncReject()
		e.Record(audit.KindOrderError, fmt.Sprintf("%s: %s", rej.Class, rej.Message))
		e.broker.Gate().OnOrderError(rej.Class)
	}

	switch res.Outcome {
	case order.OutcomeFilled:
		e.pnl.Execution(res.Side, res.Delta, res.Price, decimal.Zero)
		e.metrics.IncFill()
		e.strategy.OnExecution(strategy.Fill{
			Side:      res.Side,
			Size:      res.Delta,
			Price:     res.Price,
			Completed: res.Completed,
		})
	case order.OutcomeApplied, order.OutcomeRejected:
		if e.book.IsValid() {
			e.strategy.OnMarketData()
		}
	}
}

func (e *Engine) onReconnected() {
	res, err := e.orders.MarketEvent(order.Reconnect{})
	if err != nil {
		e.broker.Gate().Escalate(err)
	}
	e.Record(audit.KindReconnect, fmt.Sprintf("session re-established, %d replaces rolled back", res.Reverted))
}
