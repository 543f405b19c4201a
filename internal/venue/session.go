package venue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"marketmaker/internal/bus"
	"marketmaker/internal/obs"
	"marketmaker/internal/order"
	"marketmaker/pkg/exception"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultOutboundSize     = 1024
	controlQueueSize        = 16
)

// Config describes one venue connection.
type Config struct {
	URL    string
	Key    string
	Secret string
	Pair   Pair
	Depth  int

	// WriteRate caps outbound order messages per second; zero disables pacing.
	WriteRate  float64
	WriteBurst int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Backoff          Backoff

	// BreakerFailures consecutive dial failures open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = 1
	}
	return c
}

// Session keeps one authenticated, subscribed websocket to the venue alive.
// Decoded events go to the inbound queue in arrival order; requests handed to
// Send are written in order, paced by the rate limiter.
type Session struct {
	cfg      Config
	codec    *Codec
	dialer   *websocket.Dialer
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	inbound  *bus.Queue[Event]
	outbound *bus.Queue[order.Request]
	metrics  *obs.Metrics
	now      func() time.Time

	connected atomic.Bool
	sessions  atomic.Uint64
}

func NewSession(cfg Config, inbound *bus.Queue[Event], metrics *obs.Metrics) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:   cfg,
		codec: NewCodec(cfg.Pair, cfg.Depth),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		limiter:  rate.NewLimiter(rate.Inf, cfg.WriteBurst),
		inbound:  inbound,
		outbound: bus.NewQueue[order.Request](defaultOutboundSize),
		metrics:  metrics,
		now:      time.Now,
	}
	if cfg.WriteRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), cfg.WriteBurst)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "venue-dial",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logs.Warnf("breaker %s: %s -> %s", name, from, to)
		},
	})
	return s
}

// Connected reports whether a session is authenticated and subscribed.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Send queues requests for the writer. Requests issued while disconnected are
// held and written after the next handshake.
func (s *Session) Send(reqs []order.Request) {
	for _, req := range reqs {
		if err := s.outbound.TryPublish(req); err != nil {
			s.metrics.IncQueueDrop()
			logs.Errorf("drop %s request %s, err: %+v", req.Kind, req.CorrelationID, err)
		}
	}
}

// Close stops accepting outbound requests.
func (s *Session) Close() {
	s.outbound.Close()
}

// Run dials, authenticates, subscribes and serves until ctx is done,
// reconnecting with backoff. Every session after the first is announced with
// a KindReconnected event before any of its own events.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempt++
			logs.Warnf("dial venue %s (attempt %d), err: %+v", s.cfg.URL, attempt, err)
			s.sleepBackoff(ctx, attempt)
			continue
		}

		if err := s.handshake(conn); err != nil {
			_ = conn.Close()
			attempt++
			logs.Warnf("venue handshake (attempt %d), err: %+v", attempt, err)
			s.sleepBackoff(ctx, attempt)
			continue
		}
		attempt = 0

		if s.sessions.Add(1) > 1 {
			if err := s.inbound.Publish(ctx, ReconnectedEvent(s.now())); err != nil {
				_ = conn.Close()
				return nil
			}
		}
		s.connected.Store(true)
		logs.Infof("venue session %d established, pair %s", s.sessions.Load(), s.cfg.Pair)

		err = s.serve(ctx, conn)
		s.connected.Store(false)

		if ctx.Err() != nil {
			return nil
		}
		if err == ErrSessionClosed {
			return nil
		}
		attempt++
		logs.Warnf("venue session ended, err: %+v", err)
		s.sleepBackoff(ctx, attempt)
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	return res.(*websocket.Conn), nil
}

// handshake authenticates when credentials are configured and subscribes to
// the order book. The codec is reset so the subscribe reply rebuilds the book.
func (s *Session) handshake(conn *websocket.Conn) error {
	s.codec.Reset()

	if s.cfg.Key != "" {
		if err := conn.SetReadDeadline(s.now().Add(s.cfg.HandshakeTimeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		payload, err := s.codec.EncodeAuth(s.cfg.Key, s.cfg.Secret, s.now())
		if err != nil {
			return err
		}
		if err := s.write(conn, payload); err != nil {
			return errors.Wrap(err, "write auth")
		}
		if err := s.awaitAuth(conn); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return errors.Wrap(err, "clear read deadline")
		}
	}

	payload, err := s.codec.EncodeSubscribe()
	if err != nil {
		return err
	}
	if err := s.write(conn, payload); err != nil {
		return errors.Wrap(err, "write subscribe")
	}
	return nil
}

func (s *Session) awaitAuth(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read auth reply")
		}
		decoded, err := s.codec.Decode(raw, s.now())
		if err != nil {
			logs.Warnf("skip handshake frame, err: %+v", err)
			continue
		}
		if decoded.Name != MsgAuth {
			continue
		}
		if !decoded.AuthOK {
			return errors.Wrap(ErrAuthRejected, decoded.Error)
		}
		return nil
	}
}

// serve writes requests until the session fails. It closes conn and waits for
// the reader to exit before returning, so the next handshake owns the codec.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	control := make(chan []byte, controlQueueSize)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(sessionCtx, conn, control, errCh)
	}()
	defer func() {
		cancel()
		_ = conn.Close()
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case payload := <-control:
			if err := s.write(conn, payload); err != nil {
				return errors.Wrap(err, "write control")
			}
		case req, ok := <-s.outbound.Chan():
			if !ok {
				return ErrSessionClosed
			}
			if err := s.limiter.Wait(sessionCtx); err != nil {
				return err
			}
			payload, err := s.codec.EncodeRequest(req)
			if err != nil {
				logs.Errorf("encode %s request %s, err: %+v", req.Kind, req.CorrelationID, err)
				continue
			}
			if err := s.write(conn, payload); err != nil {
				return errors.Wrapf(err, "write %s request", req.Kind)
			}
			s.metrics.IncRequest(req.Kind)
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, control chan<- []byte, errCh chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errCh <- errors.Wrap(err, "read")
			return
		}
		recv := s.now()
		decoded, err := s.codec.Decode(raw, recv)
		if err != nil {
			logs.Warnf("skip venue frame, err: %+v", err)
			continue
		}

		switch decoded.Name {
		case MsgPing:
			s.queueControl(control, s.codec.EncodePong)
		case MsgDisconnecting:
			errCh <- errors.Wrap(exception.ErrConnectionClose, "venue is disconnecting")
			return
		}
		if decoded.Error != "" {
			logs.Errorf("venue %s failed: %s", decoded.Name, decoded.Error)
		}
		if decoded.Resync {
			s.queueControl(control, s.codec.EncodeUnsubscribe)
			s.queueControl(control, s.codec.EncodeSubscribe)
		}

		for _, ev := range decoded.Events {
			if err := s.inbound.Publish(ctx, ev); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (s *Session) queueControl(control chan<- []byte, encode func() ([]byte, error)) {
	payload, err := encode()
	if err != nil {
		logs.Errorf("encode control message, err: %+v", err)
		return
	}
	select {
	case control <- payload:
	default:
		logs.Warnf("control queue full, drop %s", payload)
	}
}

func (s *Session) write(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) sleepBackoff(ctx context.Context, attempt int) {
	wait := s.cfg.Backoff.Next(attempt)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
