package sim

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/internal/book"
	"marketmaker/internal/bus"
	"marketmaker/internal/enum"
	"marketmaker/internal/order"
	"marketmaker/internal/venue"
)

const (
	msgOrderNotFound = "Error: Order not found"
	msgInvalidAmount = "Invalid amount"
	remainsExp       = 8
	requestQueueSize = 1024
)

// Config describes the simulated venue.
type Config struct {
	Pair       venue.Pair      `json:"pair"`
	Seed       int64           `json:"seed"`
	Mid        decimal.Decimal `json:"mid"`
	Spread     decimal.Decimal `json:"spread"`
	Volatility decimal.Decimal `json:"volatility"`
	Levels     int             `json:"levels"`
	Tick       time.Duration   `json:"tick"`
	Chaos      ChaosConfig     `json:"chaos"`
}

func (c Config) withDefaults() Config {
	if c.Pair == (venue.Pair{}) {
		c.Pair = venue.Pair{Crypto: "BTC", Currency: "USD"}
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if !c.Mid.IsPositive() {
		c.Mid = decimal.NewFromInt(1300)
	}
	if !c.Spread.IsPositive() {
		c.Spread = decimal.NewFromInt(2)
	}
	if !c.Volatility.IsPositive() {
		c.Volatility = decimal.NewFromInt(1)
	}
	if c.Levels <= 0 {
		c.Levels = 10
	}
	if c.Tick <= 0 {
		c.Tick = 500 * time.Millisecond
	}
	return c
}

type resting struct {
	id        string
	side      enum.Side
	price     decimal.Decimal
	remaining decimal.Decimal
}

// Venue is an in-process paper exchange. It speaks the venue wire format and
// decodes every frame through venue.Codec, so the engine sees exactly what a
// live session would deliver. Chaos applies to market data only.
type Venue struct {
	cfg      Config
	market   *Market
	codec    *venue.Codec
	chaos    *Chaos
	inbound  *bus.Queue[venue.Event]
	requests *bus.Queue[order.Request]

	seq     int64
	nextID  int64
	resting map[string]*resting
}

func New(cfg Config, inbound *bus.Queue[venue.Event]) (*Venue, error) {
	cfg = cfg.withDefaults()
	var chaos *Chaos
	if cfg.Chaos.Enabled() {
		c, err := NewChaos(cfg.Chaos)
		if err != nil {
			return nil, errors.Wrap(err, "chaos config")
		}
		chaos = c
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Venue{
		cfg:      cfg,
		market:   NewMarket(rng, cfg.Mid, cfg.Spread, cfg.Volatility, cfg.Levels),
		codec:    venue.NewCodec(cfg.Pair, cfg.Levels),
		chaos:    chaos,
		inbound:  inbound,
		requests: bus.NewQueue[order.Request](requestQueueSize),
		resting:  make(map[string]*resting),
	}, nil
}

// Market exposes the simulated market book.
func (v *Venue) Market() *Market {
	return v.market
}

// Resting returns the number of orders on the simulated book.
func (v *Venue) Resting() int {
	return len(v.resting)
}

// Send queues requests for Run.
func (v *Venue) Send(reqs []order.Request) {
	for _, req := range reqs {
		if err := v.requests.TryPublish(req); err != nil {
			logs.Errorf("sim: drop %s request %s, err: %+v", req.Kind, req.CorrelationID, err)
		}
	}
}

// Run publishes the opening snapshot, then walks the market every tick and
// answers requests until ctx is done.
func (v *Venue) Run(ctx context.Context) error {
	if err := v.Snapshot(ctx, time.Now()); err != nil {
		return err
	}
	ticker := time.NewTicker(v.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := v.Step(ctx, now); err != nil {
				return err
			}
		case req, ok := <-v.requests.Chan():
			if !ok {
				return nil
			}
			if err := v.Handle(ctx, req, time.Now()); err != nil {
				return err
			}
		}
	}
}

// Snapshot delivers the whole book as a subscription reply.
func (v *Venue) Snapshot(ctx context.Context, now time.Time) error {
	v.chaos.Discard()
	v.seq++
	frame, err := v.bookFrame(venue.MsgSubscribe, v.market.Snapshot())
	if err != nil {
		return err
	}
	return v.deliver(ctx, frame, now)
}

// Step walks the market one tick and fills resting orders it crossed.
func (v *Venue) Step(ctx context.Context, now time.Time) error {
	if err := v.publishDeltas(ctx, v.market.Walk(), now); err != nil {
		return err
	}
	return v.match(ctx, now)
}

func (v *Venue) publishDeltas(ctx context.Context, deltas []book.Delta, now time.Time) error {
	if len(deltas) == 0 {
		return nil
	}
	v.seq++
	frame, err := v.bookFrame(venue.MsgMarketData, deltas)
	if err != nil {
		return err
	}
	for _, out := range v.chaos.Process(frame) {
		if err := v.deliver(ctx, out, now); err != nil {
			return err
		}
	}
	return nil
}

// match fills resting orders priced through the opposite top of book, sorted
// by id for determinism.
func (v *Venue) match(ctx context.Context, now time.Time) error {
	ids := make([]string, 0, len(v.resting))
	for id := range v.resting {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := v.resting[id]
		opposite := r.side.Opposite()
		top, ok := v.market.Book().Quote(opposite)
		if !ok || r.side.Better(top.Price, r.price) {
			continue
		}
		fill := decimal.Min(r.remaining, top.Size)
		r.remaining = r.remaining.Sub(fill)
		if delta, ok := v.market.Take(opposite, fill); ok {
			if err := v.publishDeltas(ctx, []book.Delta{delta}, now); err != nil {
				return err
			}
		}
		if err := v.reply(ctx, now, venue.MsgOrder, "", orderUpdate{
			ID:       r.id,
			Remains:  r.remaining.Shift(remainsExp).Truncate(0),
			Complete: r.remaining.IsZero(),
		}); err != nil {
			return err
		}
		if r.remaining.IsZero() {
			delete(v.resting, id)
		}
	}
	return nil
}

// Handle answers one order request the way the venue would.
func (v *Venue) Handle(ctx context.Context, req order.Request, now time.Time) error {
	switch req.Kind {
	case order.RequestNew:
		if !req.Size.IsPositive() || !req.Price.IsPositive() {
			return v.fail(ctx, now, venue.MsgPlaceOrder, req.CorrelationID, msgInvalidAmount)
		}
		r := v.rest(req.Side, req.Price, req.Size)
		return v.reply(ctx, now, venue.MsgPlaceOrder, req.CorrelationID, orderReply{
			ID: r.id, Pending: req.Size, Amount: req.Size, Price: req.Price,
		})
	case order.RequestReplace:
		old, ok := v.resting[req.OrderID]
		if !ok {
			return v.fail(ctx, now, venue.MsgReplaceOrder, req.CorrelationID, msgOrderNotFound)
		}
		if !req.Size.IsPositive() || !req.Price.IsPositive() {
			return v.fail(ctx, now, venue.MsgReplaceOrder, req.CorrelationID, msgInvalidAmount)
		}
		delete(v.resting, old.id)
		r := v.rest(old.side, req.Price, req.Size)
		return v.reply(ctx, now, venue.MsgReplaceOrder, req.CorrelationID, orderReply{
			ID: r.id, Pending: req.Size, Amount: req.Size, Price: req.Price,
		})
	case order.RequestCancel:
		if _, ok := v.resting[req.OrderID]; !ok {
			return v.fail(ctx, now, venue.MsgCancelOrder, req.CorrelationID, msgOrderNotFound)
		}
		delete(v.resting, req.OrderID)
		return v.reply(ctx, now, venue.MsgCancelOrder, req.CorrelationID, cancelReply{OrderID: req.OrderID})
	default:
		return errors.Errorf("sim: unsupported request kind %d", req.Kind)
	}
}

func (v *Venue) rest(side enum.Side, price, size decimal.Decimal) *resting {
	v.nextID++
	r := &resting{
		id:        strconv.FormatInt(v.nextID, 10),
		side:      side,
		price:     price,
		remaining: size,
	}
	v.resting[r.id] = r
	return r
}

type frame struct {
	E    string `json:"e"`
	OID  string `json:"oid,omitempty"`
	OK   string `json:"ok,omitempty"`
	Data any    `json:"data"`
}

type bookData struct {
	ID   int64                `json:"id"`
	Pair string               `json:"pair"`
	Bids [][2]decimal.Decimal `json:"bids"`
	Asks [][2]decimal.Decimal `json:"asks"`
}

type orderReply struct {
	ID      string          `json:"id"`
	Pending decimal.Decimal `json:"pending"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"`
}

type cancelReply struct {
	OrderID string `json:"order_id"`
}

type orderUpdate struct {
	ID       string          `json:"id"`
	Remains  decimal.Decimal `json:"remains"`
	Complete bool            `json:"complete,omitempty"`
}

type errorReply struct {
	Error string `json:"error"`
}

func (v *Venue) bookFrame(name string, deltas []book.Delta) ([]byte, error) {
	data := bookData{ID: v.seq, Pair: v.cfg.Pair.String(), Bids: [][2]decimal.Decimal{}, Asks: [][2]decimal.Decimal{}}
	for _, d := range deltas {
		lvl := [2]decimal.Decimal{d.Price, d.Size}
		if d.Side == enum.SideBid {
			data.Bids = append(data.Bids, lvl)
		} else {
			data.Asks = append(data.Asks, lvl)
		}
	}
	return encode(frame{E: name, OK: "ok", Data: data})
}

func (v *Venue) reply(ctx context.Context, now time.Time, name, oid string, data any) error {
	raw, err := encode(frame{E: name, OID: oid, OK: "ok", Data: data})
	if err != nil {
		return err
	}
	return v.deliver(ctx, raw, now)
}

func (v *Venue) fail(ctx context.Context, now time.Time, name, oid, msg string) error {
	raw, err := encode(frame{E: name, OID: oid, OK: "error", Data: errorReply{Error: msg}})
	if err != nil {
		return err
	}
	return v.deliver(ctx, raw, now)
}

// deliver decodes a frame and publishes its events. A sequence break makes the
// codec ask for a resync, answered with a fresh snapshot.
func (v *Venue) deliver(ctx context.Context, raw []byte, now time.Time) error {
	decoded, err := v.codec.Decode(raw, now)
	if err != nil {
		return errors.Wrap(err, "sim: decode own frame")
	}
	for _, ev := range decoded.Events {
		if err := v.inbound.Publish(ctx, ev); err != nil {
			return err
		}
	}
	if decoded.Resync {
		return v.Snapshot(ctx, now)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	b, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "sim: marshal frame")
	}
	return b, nil
}
