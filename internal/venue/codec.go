package venue

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"marketmaker/internal/book"
	"marketmaker/internal/enum"
	"marketmaker/internal/order"
)

// Message names used on the wire.
const (
	MsgConnected     = "connected"
	MsgAuth          = "auth"
	MsgPing          = "ping"
	MsgPong          = "pong"
	MsgSubscribe     = "order-book-subscribe"
	MsgUnsubscribe   = "order-book-unsubscribe"
	MsgMarketData    = "md_update"
	MsgPlaceOrder    = "place-order"
	MsgReplaceOrder  = "cancel-replace-order"
	MsgCancelOrder   = "cancel-order"
	MsgOrder         = "order"
	MsgDisconnecting = "disconnecting"
)

const (
	defaultDepth = 10
	// remainsExp scales the integer remains of order updates.
	remainsExp = -8
	okStatus   = "ok"
)

// Pair names the traded instrument.
type Pair struct {
	Crypto   string `json:"crypto"`
	Currency string `json:"currency"`
}

func (p Pair) String() string {
	return p.Crypto + ":" + p.Currency
}

func (p Pair) wire() [2]string {
	return [2]string{p.Crypto, p.Currency}
}

// Decoded is the result of decoding one inbound frame.
type Decoded struct {
	Name   string
	Events []Event
	// Resync asks the session to re-subscribe for a fresh book snapshot.
	Resync bool
	// AuthOK is set for auth replies.
	AuthOK bool
	// Error carries the venue description of a failed auth or subscription.
	Error string
}

// Codec translates between venue frames and typed events. Decoding keeps the
// book sequence state and must be driven by one goroutine.
type Codec struct {
	pair  Pair
	depth int

	synced bool
	lastID int64
}

func NewCodec(pair Pair, depth int) *Codec {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Codec{pair: pair, depth: depth}
}

func (c *Codec) Pair() Pair {
	return c.pair
}

// Reset forgets the book sequence; the next snapshot starts a new one.
func (c *Codec) Reset() {
	c.synced = false
	c.lastID = 0
}

// Synced reports whether a snapshot has been seen since the last reset or gap.
func (c *Codec) Synced() bool {
	return c.synced
}

type outbound struct {
	E    string `json:"e"`
	Data any    `json:"data,omitempty"`
	Auth any    `json:"auth,omitempty"`
	OID  string `json:"oid,omitempty"`
}

type authData struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

type subscribeData struct {
	Pair      [2]string `json:"pair"`
	Subscribe bool      `json:"subscribe"`
	Depth     int       `json:"depth"`
}

type unsubscribeData struct {
	Pair [2]string `json:"pair"`
}

type orderData struct {
	OrderID string          `json:"order_id,omitempty"`
	Pair    [2]string       `json:"pair"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"`
	Type    string          `json:"type"`
}

type cancelData struct {
	OrderID string `json:"order_id"`
}

// Sign returns the hex HMAC-SHA256 of timestamp followed by key.
func Sign(key, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + key))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Codec) EncodeAuth(key, secret string, now time.Time) ([]byte, error) {
	ts := now.Unix()
	return marshal(outbound{
		E:    MsgAuth,
		Auth: authData{Key: key, Signature: Sign(key, secret, ts), Timestamp: ts},
		OID:  MsgAuth,
	})
}

func (c *Codec) EncodeSubscribe() ([]byte, error) {
	return marshal(outbound{
		E:    MsgSubscribe,
		Data: subscribeData{Pair: c.pair.wire(), Subscribe: true, Depth: c.depth},
		OID:  MsgSubscribe,
	})
}

func (c *Codec) EncodeUnsubscribe() ([]byte, error) {
	return marshal(outbound{
		E:    MsgUnsubscribe,
		Data: unsubscribeData{Pair: c.pair.wire()},
		OID:  MsgUnsubscribe,
	})
}

func (c *Codec) EncodePong() ([]byte, error) {
	return marshal(outbound{E: MsgPong})
}

// EncodeRequest serializes an outbound order request.
func (c *Codec) EncodeRequest(req order.Request) ([]byte, error) {
	switch req.Kind {
	case order.RequestNew:
		return marshal(outbound{
			E:    MsgPlaceOrder,
			Data: c.orderData("", req),
			OID:  req.CorrelationID,
		})
	case order.RequestReplace:
		return marshal(outbound{
			E:    MsgReplaceOrder,
			Data: c.orderData(req.OrderID, req),
			OID:  req.CorrelationID,
		})
	case order.RequestCancel:
		return marshal(outbound{
			E:    MsgCancelOrder,
			Data: cancelData{OrderID: req.OrderID},
			OID:  req.CorrelationID,
		})
	default:
		return nil, errors.Wrapf(ErrUnsupportedRequest, "kind %d", req.Kind)
	}
}

func (c *Codec) orderData(orderID string, req order.Request) orderData {
	return orderData{
		OrderID: orderID,
		Pair:    c.pair.wire(),
		Amount:  req.Size,
		Price:   req.Price,
		Type:    wireSide(req.Side),
	}
}

func marshal(v any) ([]byte, error) {
	b, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal venue message")
	}
	return b, nil
}

func wireSide(side enum.Side) string {
	if side == enum.SideBid {
		return "buy"
	}
	return "sell"
}

// flexString accepts both JSON strings and numbers; order ids arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

type inbound struct {
	E    string          `json:"e"`
	OID  string          `json:"oid"`
	OK   string          `json:"ok"`
	Data json.RawMessage `json:"data"`
}

type errorData struct {
	Error string `json:"error"`
	OK    string `json:"ok"`
}

type bookData struct {
	ID   int64                `json:"id"`
	Bids [][2]decimal.Decimal `json:"bids"`
	Asks [][2]decimal.Decimal `json:"asks"`
}

type orderReply struct {
	ID       flexString      `json:"id"`
	OrderID  flexString      `json:"order_id"`
	Pending  decimal.Decimal `json:"pending"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	Remains  decimal.Decimal `json:"remains"`
	Complete bool            `json:"complete"`
	Cancel   *bool           `json:"cancel"`
}

// Decode parses one inbound frame. Frames the engine does not care about
// decode to an empty Decoded with only Name set.
func (c *Codec) Decode(raw []byte, recv time.Time) (Decoded, error) {
	var msg inbound
	if err := sonic.ConfigFastest.Unmarshal(raw, &msg); err != nil {
		return Decoded{}, errors.Wrapf(ErrMalformedMessage, "unmarshal: %+v", err)
	}
	out := Decoded{Name: msg.E}

	var failure errorData
	if len(msg.Data) > 0 && msg.Data[0] == '{' {
		if err := sonic.ConfigFastest.Unmarshal(msg.Data, &failure); err != nil {
			return out, errors.Wrapf(ErrMalformedMessage, "%s data: %+v", msg.E, err)
		}
	}
	failed := (msg.OK != "" && msg.OK != okStatus) || failure.Error != ""

	switch msg.E {
	case MsgAuth:
		out.AuthOK = !failed && (msg.OK == okStatus || failure.OK == okStatus)
		out.Error = failure.Error
		return out, nil
	case MsgSubscribe:
		if failed {
			out.Error = failure.Error
			return out, nil
		}
		return c.decodeBook(out, msg.Data, true, recv)
	case MsgMarketData:
		return c.decodeBook(out, msg.Data, false, recv)
	case MsgPlaceOrder, MsgReplaceOrder, MsgCancelOrder:
		if failed {
			out.Events = append(out.Events, OrderEvent(order.ErrorEvent{
				CorrelationID: msg.OID,
				Class:         Classify(failure.Error),
				Message:       failure.Error,
			}, recv))
			return out, nil
		}
		return c.decodeReply(out, msg, recv)
	case MsgOrder:
		return c.decodeReply(out, msg, recv)
	default:
		return out, nil
	}
}

func (c *Codec) decodeBook(out Decoded, raw json.RawMessage, snapshot bool, recv time.Time) (Decoded, error) {
	var data bookData
	if err := sonic.ConfigFastest.Unmarshal(raw, &data); err != nil {
		return out, errors.Wrapf(ErrMalformedMessage, "%s data: %+v", out.Name, err)
	}

	if !snapshot {
		if !c.synced {
			return out, nil
		}
		if data.ID != c.lastID+1 {
			skipped := uint64(0)
			if data.ID > c.lastID {
				skipped = uint64(data.ID - c.lastID - 1)
			}
			c.Reset()
			out.Resync = true
			out.Events = append(out.Events, GapEvent(skipped, recv))
			return out, nil
		}
	}
	c.synced = true
	c.lastID = data.ID

	deltas := make([]book.Delta, 0, len(data.Bids)+len(data.Asks))
	deltas = appendLevels(deltas, enum.SideBid, data.Bids)
	deltas = appendLevels(deltas, enum.SideAsk, data.Asks)
	out.Events = append(out.Events, BookEvent(deltas, snapshot, recv))
	return out, nil
}

func appendLevels(dst []book.Delta, side enum.Side, levels [][2]decimal.Decimal) []book.Delta {
	for _, lvl := range levels {
		dst = append(dst, book.Delta{Side: side, Price: lvl[0], Size: lvl[1]})
	}
	return dst
}

func (c *Codec) decodeReply(out Decoded, msg inbound, recv time.Time) (Decoded, error) {
	var data orderReply
	if err := sonic.ConfigFastest.Unmarshal(msg.Data, &data); err != nil {
		return out, errors.Wrapf(ErrMalformedMessage, "%s data: %+v", msg.E, err)
	}

	var ev order.Event
	switch {
	case data.Complete:
		ev = order.Execution{OrderID: string(data.ID), CorrelationID: msg.OID, Remaining: decimal.Zero}
	case msg.E == MsgPlaceOrder:
		ev = order.Acknowledged{
			CorrelationID: msg.OID,
			OrderID:       string(data.ID),
			Pending:       data.Pending,
			Amount:        data.Amount,
		}
	case msg.E == MsgReplaceOrder:
		ev = order.Replaced{
			CorrelationID: msg.OID,
			OrderID:       string(data.ID),
			Pending:       data.Pending,
			Amount:        data.Amount,
			Price:         data.Price,
		}
	case msg.E == MsgCancelOrder:
		ev = order.Cancelled{CorrelationID: msg.OID, OrderID: string(data.OrderID)}
	case msg.E == MsgOrder && data.Cancel == nil:
		ev = order.Execution{OrderID: string(data.ID), Remaining: data.Remains.Shift(remainsExp)}
	default:
		return out, nil
	}
	out.Events = append(out.Events, OrderEvent(ev, recv))
	return out, nil
}
