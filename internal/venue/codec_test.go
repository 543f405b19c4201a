package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/enum"
	"marketmaker/internal/order"
)

var recvTs = time.Unix(1700000000, 0)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestCodec() *Codec {
	return NewCodec(Pair{Crypto: "BTC", Currency: "USD"}, 10)
}

func decodeMap(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, sonic.Unmarshal(raw, &m))
	return m
}

func TestSign(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1700000000key"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), Sign("key", "secret", 1700000000))
	assert.NotEqual(t, Sign("key", "secret", 1700000000), Sign("key", "secret", 1700000001))
}

func TestEncodeAuth(t *testing.T) {
	raw, err := newTestCodec().EncodeAuth("key", "secret", recvTs)
	require.NoError(t, err)

	m := decodeMap(t, raw)
	assert.Equal(t, "auth", m["e"])
	assert.Equal(t, "auth", m["oid"])
	auth := m["auth"].(map[string]any)
	assert.Equal(t, "key", auth["key"])
	assert.EqualValues(t, 1700000000, auth["timestamp"])
	assert.Equal(t, Sign("key", "secret", 1700000000), auth["signature"])
}

func TestEncodeSubscribe(t *testing.T) {
	raw, err := newTestCodec().EncodeSubscribe()
	require.NoError(t, err)

	m := decodeMap(t, raw)
	assert.Equal(t, MsgSubscribe, m["e"])
	data := m["data"].(map[string]any)
	assert.Equal(t, []any{"BTC", "USD"}, data["pair"])
	assert.Equal(t, true, data["subscribe"])
	assert.EqualValues(t, 10, data["depth"])
}

func TestEncodeRequests(t *testing.T) {
	c := newTestCodec()

	raw, err := c.EncodeRequest(order.Request{
		Kind: order.RequestNew, Side: enum.SideBid, Price: d("100.5"), Size: d("0.25"), CorrelationID: "cid-1",
	})
	require.NoError(t, err)
	m := decodeMap(t, raw)
	assert.Equal(t, MsgPlaceOrder, m["e"])
	assert.Equal(t, "cid-1", m["oid"])
	data := m["data"].(map[string]any)
	assert.Equal(t, "buy", data["type"])
	assert.Equal(t, "100.5", data["price"])
	assert.Equal(t, "0.25", data["amount"])
	assert.NotContains(t, data, "order_id")

	raw, err = c.EncodeRequest(order.Request{
		Kind: order.RequestReplace, Side: enum.SideAsk, Price: d("101"), Size: d("1"), OrderID: "42", CorrelationID: "cid-2",
	})
	require.NoError(t, err)
	m = decodeMap(t, raw)
	assert.Equal(t, MsgReplaceOrder, m["e"])
	data = m["data"].(map[string]any)
	assert.Equal(t, "sell", data["type"])
	assert.Equal(t, "42", data["order_id"])

	raw, err = c.EncodeRequest(order.Request{Kind: order.RequestCancel, OrderID: "42", CorrelationID: "cid-3"})
	require.NoError(t, err)
	m = decodeMap(t, raw)
	assert.Equal(t, MsgCancelOrder, m["e"])
	assert.Equal(t, map[string]any{"order_id": "42"}, m["data"])

	_, err = c.EncodeRequest(order.Request{})
	assert.ErrorIs(t, err, ErrUnsupportedRequest)
}

func TestDecodeBookSnapshotAndUpdates(t *testing.T) {
	c := newTestCodec()

	out, err := c.Decode([]byte(`{"e":"md_update","data":{"id":5,"bids":[[100,1]],"asks":[]}}`), recvTs)
	require.NoError(t, err)
	assert.Empty(t, out.Events, "updates before a snapshot are ignored")

	out, err = c.Decode([]byte(`{"e":"order-book-subscribe","ok":"ok","oid":"order-book-subscribe","data":{"id":7,"bids":[[100,1],[99,2]],"asks":[[101,"0.5"]]}}`), recvTs)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, KindBook, ev.Kind)
	assert.True(t, ev.Full)
	require.Len(t, ev.Deltas, 3)
	assert.Equal(t, enum.SideBid, ev.Deltas[0].Side)
	assert.True(t, ev.Deltas[1].Size.Equal(d("2")))
	assert.Equal(t, enum.SideAsk, ev.Deltas[2].Side)
	assert.True(t, ev.Deltas[2].Size.Equal(d("0.5")))
	assert.True(t, c.Synced())

	out, err = c.Decode([]byte(`{"e":"md_update","data":{"id":8,"bids":[[100,0]],"asks":[]}}`), recvTs)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.False(t, out.Events[0].Full)
	assert.True(t, out.Events[0].Deltas[0].Size.IsZero())
	assert.Equal(t, recvTs, out.Events[0].RecvTs)
}

func TestDecodeGapForcesResync(t *testing.T) {
	c := newTestCodec()
	_, err := c.Decode([]byte(`{"e":"order-book-subscribe","ok":"ok","data":{"id":1,"bids":[[100,1]],"asks":[[101,1]]}}`), recvTs)
	require.NoError(t, err)

	out, err := c.Decode([]byte(`{"e":"md_update","data":{"id":4,"bids":[],"asks":[]}}`), recvTs)
	require.NoError(t, err)
	assert.True(t, out.Resync)
	require.Len(t, out.Events, 1)
	assert.Equal(t, KindGap, out.Events[0].Kind)
	assert.EqualValues(t, 2, out.Events[0].Skipped)
	assert.False(t, c.Synced())

	out, err = c.Decode([]byte(`{"e":"md_update","data":{"id":5,"bids":[[1,1]],"asks":[]}}`), recvTs)
	require.NoError(t, err)
	assert.Empty(t, out.Events)
}

func TestDecodeOrderReplies(t *testing.T) {
	c := newTestCodec()

	testCases := []struct {
		desc     string
		raw      string
		expected order.Event
	}{
		{
			"ack",
			`{"e":"place-order","oid":"cid-1","ok":"ok","data":{"id":"77","pending":"0.5","amount":"1","price":"100","complete":false}}`,
			order.Acknowledged{CorrelationID: "cid-1", OrderID: "77", Pending: d("0.5"), Amount: d("1")},
		},
		{
			"ack with numeric id",
			`{"e":"place-order","oid":"cid-1","ok":"ok","data":{"id":77,"pending":"1","amount":"1"}}`,
			order.Acknowledged{CorrelationID: "cid-1", OrderID: "77", Pending: d("1"), Amount: d("1")},
		},
		{
			"filled on placement",
			`{"e":"place-order","oid":"cid-1","ok":"ok","data":{"id":"77","pending":"0","amount":"1","complete":true}}`,
			order.Execution{OrderID: "77", CorrelationID: "cid-1", Remaining: decimal.Zero},
		},
		{
			"replaced",
			`{"e":"cancel-replace-order","oid":"cid-2","ok":"ok","data":{"id":"78","pending":"2","amount":"2","price":"99"}}`,
			order.Replaced{CorrelationID: "cid-2", OrderID: "78", Pending: d("2"), Amount: d("2"), Price: d("99")},
		},
		{
			"cancelled",
			`{"e":"cancel-order","oid":"cid-3","ok":"ok","data":{"order_id":"78"}}`,
			order.Cancelled{CorrelationID: "cid-3", OrderID: "78"},
		},
		{
			"execution remains are scaled",
			`{"e":"order","data":{"id":"78","remains":"150000000"}}`,
			order.Execution{OrderID: "78", Remaining: d("1.5")},
		},
		{
			"complete order update",
			`{"e":"order","data":{"id":"78","remains":"0","complete":true}}`,
			order.Execution{OrderID: "78", Remaining: decimal.Zero},
		},
		{
			"insufficient funds",
			`{"e":"place-order","oid":"cid-4","ok":"error","data":{"error":"Error: Place order error: Insufficient funds. "}}`,
			order.ErrorEvent{CorrelationID: "cid-4", Class: order.ErrorInsufficientFunds, Message: "Error: Place order error: Insufficient funds. "},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			out, err := c.Decode([]byte(tc.raw), recvTs)
			require.NoError(t, err)
			require.Len(t, out.Events, 1)
			assert.Equal(t, KindOrder, out.Events[0].Kind)
			assertOrderEvent(t, tc.expected, out.Events[0].Order)
		})
	}
}

func assertOrderEvent(t *testing.T, expected, actual order.Event) {
	t.Helper()
	require.IsType(t, expected, actual)
	switch e := expected.(type) {
	case order.Acknowledged:
		a := actual.(order.Acknowledged)
		assert.Equal(t, e.CorrelationID, a.CorrelationID)
		assert.Equal(t, e.OrderID, a.OrderID)
		assert.True(t, e.Pending.Equal(a.Pending), "pending %s", a.Pending)
		assert.True(t, e.Amount.Equal(a.Amount), "amount %s", a.Amount)
	case order.Replaced:
		a := actual.(order.Replaced)
		assert.Equal(t, e.CorrelationID, a.CorrelationID)
		assert.Equal(t, e.OrderID, a.OrderID)
		assert.True(t, e.Amount.Equal(a.Amount))
		assert.True(t, e.Price.Equal(a.Price))
	case order.Execution:
		a := actual.(order.Execution)
		assert.Equal(t, e.OrderID, a.OrderID)
		assert.Equal(t, e.CorrelationID, a.CorrelationID)
		assert.True(t, e.Remaining.Equal(a.Remaining), "remaining %s", a.Remaining)
	default:
		assert.Equal(t, expected, actual)
	}
}

func TestDecodeIgnoresCancelUpdatesAndUnknownFrames(t *testing.T) {
	c := newTestCodec()

	out, err := c.Decode([]byte(`{"e":"order","data":{"id":"78","remains":"0","cancel":true}}`), recvTs)
	require.NoError(t, err)
	assert.Empty(t, out.Events)

	out, err = c.Decode([]byte(`{"e":"ping","time":1700000000}`), recvTs)
	require.NoError(t, err)
	assert.Equal(t, MsgPing, out.Name)
	assert.Empty(t, out.Events)

	_, err = c.Decode([]byte(`{not json`), recvTs)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeAuth(t *testing.T) {
	c := newTestCodec()

	out, err := c.Decode([]byte(`{"e":"auth","ok":"ok","data":{"ok":"ok"}}`), recvTs)
	require.NoError(t, err)
	assert.True(t, out.AuthOK)

	out, err = c.Decode([]byte(`{"e":"auth","ok":"error","data":{"error":"Invalid signature"}}`), recvTs)
	require.NoError(t, err)
	assert.False(t, out.AuthOK)
	assert.Equal(t, "Invalid signature", out.Error)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		msg      string
		expected order.ErrorClass
	}{
		{"Error: Place order error: Insufficient funds.", order.ErrorInsufficientFunds},
		{"Rate limit exceeded", order.ErrorRateLimit},
		{"Error: Order not found", order.ErrorOrderNotFound},
		{"Invalid amount", order.ErrorInvalidAmount},
		{"Minimum order amount is 0.01", order.ErrorInvalidAmount},
		{"Internal error", order.ErrorUnexpected},
		{"", order.ErrorUnexpected},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Classify(tc.msg), tc.msg)
	}
}
