package observer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketmaker/internal/audit"
	"marketmaker/internal/bus"
	"marketmaker/internal/engine"
)

const (
	_defaultEventLimit = 1024
	_clientBuffer      = 8
	_writeTimeout      = 5 * time.Second
)

// Config of the observer HTTP surface.
type Config struct {
	Addr         string
	PushInterval time.Duration
	// EventLimit bounds the events kept between two /events reads. Oldest
	// events are dropped first.
	EventLimit int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.PushInterval <= 0 {
		c.PushInterval = time.Second
	}
	if c.EventLimit <= 0 {
		c.EventLimit = _defaultEventLimit
	}
	return c
}

// Server serves read-only views of the latest engine snapshot. It never
// touches engine state; Publish is its only input.
type Server struct {
	cfg      Config
	router   *mux.Router
	registry *prometheus.Registry
	upgrader websocket.Upgrader

	latest atomic.Pointer[engine.Snapshot]

	mu      sync.Mutex
	events  []audit.Event
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	out  *bus.Queue[[]byte]
}

// New builds the routes. registry may be nil to disable /metrics.
func New(cfg Config, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg:      cfg.withDefaults(),
		router:   mux.NewRouter(),
		registry: registry,
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/book", s.handleBook).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/pnl", s.handlePnL).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish stores snap as the latest view and keeps its events for /events.
// It is meant to be the engine snapshot sink.
func (s *Server) Publish(snap engine.Snapshot) {
	if len(snap.Events) > 0 {
		s.mu.Lock()
		s.events = append(s.events, snap.Events...)
		if over := len(s.events) - s.cfg.EventLimit; over > 0 {
			s.events = append(s.events[:0], s.events[over:]...)
		}
		s.mu.Unlock()
	}
	s.latest.Store(&snap)
}

// Latest returns the last published snapshot.
func (s *Server) Latest() (engine.Snapshot, bool) {
	snap := s.latest.Load()
	if snap == nil {
		return engine.Snapshot{}, false
	}
	return *snap, true
}

// DrainEvents returns and forgets the accumulated events.
func (s *Server) DrainEvents() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.events
	s.events = nil
	if out == nil {
		out = []audit.Event{}
	}
	return out
}

// Run serves HTTP on cfg.Addr and pushes the latest snapshot to stream
// clients every PushInterval until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Infof("observer listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "observer listen")
		}
		close(errCh)
	}()

	go s.pushLoop(ctx)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "observer shutdown")
	}
	return nil
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := s.Latest()
			if !ok || snap.Seq == lastSeq {
				continue
			}
			lastSeq = snap.Seq
			s.Broadcast(snap)
		}
	}
}

// Broadcast sends snap to every stream client. Slow clients lose frames
// instead of stalling the others.
func (s *Server) Broadcast(snap engine.Snapshot) {
	frame, err := sonic.ConfigStd.Marshal(snap)
	if err != nil {
		logs.Errorf("encode snapshot %d, err: %+v", snap.Seq, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.out.TryPublish(frame); err != nil {
			logs.Warnf("drop snapshot %d for %s, err: %+v", snap.Seq, c.conn.RemoteAddr(), err)
		}
	}
}

func (s *Server) handleBook(w http.ResponseWriter, _ *http.Request) {
	snap, _ := s.Latest()
	writeJSON(w, map[string]any{
		"seq":    snap.Seq,
		"market": snap.Market,
		"bids":   snap.Book.Bids,
		"asks":   snap.Book.Asks,
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	snap, _ := s.Latest()
	writeJSON(w, map[string]any{
		"seq":    snap.Seq,
		"orders": snap.Orders,
	})
}

func (s *Server) handlePnL(w http.ResponseWriter, _ *http.Request) {
	snap, _ := s.Latest()
	writeJSON(w, map[string]any{
		"seq":     snap.Seq,
		"pnl":     snap.PnL,
		"risk":    snap.Risk,
		"metrics": snap.Metrics,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.DrainEvents())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("upgrade stream from %s, err: %+v", r.RemoteAddr, err)
		return
	}

	c := &client{conn: conn, out: bus.NewQueue[[]byte](_clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	if snap, ok := s.Latest(); ok {
		if frame, err := sonic.ConfigStd.Marshal(snap); err == nil {
			_ = c.out.TryPublish(frame)
		}
	}

	go s.discardReads(c)
	s.writeLoop(c)
}

// discardReads keeps control frames flowing and notices the client leaving.
func (s *Server) discardReads(c *client) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer s.drop(c)
	for frame := range c.out.Chan() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(_writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if ok {
		c.out.Close()
		_ = c.conn.Close()
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.drop(c)
	}
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		logs.Errorf("encode response, err: %+v", err)
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}
