package observer

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/audit"
	"marketmaker/internal/book"
	"marketmaker/internal/engine"
	"marketmaker/internal/enum"
	"marketmaker/internal/obs"
	"marketmaker/internal/order"
	"marketmaker/internal/risk"
)

func sampleSnapshot(seq uint64, events ...audit.Event) engine.Snapshot {
	return engine.Snapshot{
		Seq:    seq,
		Time:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Market: "BTC:USD",
		Book: book.Depth{
			Bids: []book.Level{{Side: enum.SideBid, Price: decimal.RequireFromString("100"), Size: decimal.RequireFromString("2")}},
			Asks: []book.Level{{Side: enum.SideAsk, Price: decimal.RequireFromString("101"), Size: decimal.RequireFromString("3")}},
		},
		Orders: []order.Order{{
			Side:          enum.SideBid,
			Price:         decimal.RequireFromString("99"),
			Amount:        decimal.RequireFromString("1"),
			Requested:     decimal.RequireFromString("1"),
			OrderID:       "42",
			CorrelationID: "cid-1",
			Status:        order.StatusAcknowledged,
		}},
		Risk:   risk.StateNormal,
		Events: events,
	}
}

func get(t *testing.T, srv *httptest.Server, path string) map[string]any {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, sonic.Unmarshal(body, &out))
	return out
}

func TestReadEndpointsServeLatestSnapshot(t *testing.T) {
	s := New(Config{}, nil)
	s.Publish(sampleSnapshot(1))
	s.Publish(sampleSnapshot(2))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	bk := get(t, srv, "/book")
	assert.EqualValues(t, 2, bk["seq"])
	assert.Equal(t, "BTC:USD", bk["market"])
	bids := bk["bids"].([]any)
	require.Len(t, bids, 1)
	assert.Equal(t, "100", bids[0].(map[string]any)["price"])

	orders := get(t, srv, "/orders")["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "42", orders[0].(map[string]any)["orderId"])

	pnl := get(t, srv, "/pnl")
	assert.Equal(t, "NORMAL", pnl["risk"])
	assert.Contains(t, pnl, "metrics")
}

func TestEventsDrainAcrossSnapshots(t *testing.T) {
	s := New(Config{}, nil)
	s.Publish(sampleSnapshot(1, audit.Event{Kind: audit.KindGap, Details: "first"}))
	s.Publish(sampleSnapshot(2, audit.Event{Kind: audit.KindRM, Details: "second"}))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	read := func() []any {
		resp, err := http.Get(srv.URL + "/events")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var out []any
		require.NoError(t, sonic.Unmarshal(body, &out))
		return out
	}

	events := read()
	require.Len(t, events, 2)
	assert.Equal(t, "Gap", events[0].(map[string]any)["kind"])
	assert.Equal(t, "second", events[1].(map[string]any)["details"])

	assert.Empty(t, read())
}

func TestEventLimitDropsOldest(t *testing.T) {
	s := New(Config{EventLimit: 2}, nil)
	for i, d := range []string{"a", "b", "c"} {
		s.Publish(sampleSnapshot(uint64(i+1), audit.Event{Kind: audit.KindGap, Details: d}))
	}

	events := s.DrainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Details)
	assert.Equal(t, "c", events[1].Details)
}

func TestMetricsEndpoint(t *testing.T) {
	m := obs.NewMetrics()
	m.IncFill()
	s := New(Config{}, obs.NewRegistry(m))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "marketmaker_fills_total 1")
}

func TestMetricsDisabledWithoutRegistry(t *testing.T) {
	srv := httptest.NewServer(New(Config{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamPushesSnapshots(t *testing.T) {
	s := New(Config{}, nil)
	s.Publish(sampleSnapshot(7))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readSeq := func() float64 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		out := map[string]any{}
		require.NoError(t, sonic.Unmarshal(frame, &out))
		return out["seq"].(float64)
	}

	assert.EqualValues(t, 7, readSeq())

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 10*time.Millisecond)

	s.Broadcast(sampleSnapshot(8))
	assert.EqualValues(t, 8, readSeq())
}
