package main

import (
	"context"
	"sync"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketmaker/internal/audit"
	"marketmaker/internal/bus"
	"marketmaker/internal/engine"
	"marketmaker/internal/obs"
	"marketmaker/internal/observer"
	"marketmaker/internal/ops"
	"marketmaker/internal/sim"
	"marketmaker/internal/strategy"
	"marketmaker/internal/venue"
	"marketmaker/pkg/conn"
)

// transport is the venue side of the engine: it takes requests and feeds the
// inbound queue until ctx is done.
type transport interface {
	engine.Outbound
	Run(ctx context.Context) error
}

type app struct {
	f       flags
	loaded  ops.Loaded
	metrics *obs.Metrics
	inbound *bus.Queue[venue.Event]
	hub     *audit.Hub
	closers []func()
}

func newApp(ctx context.Context, f flags) (*app, error) {
	if f.configPath == "" {
		return nil, errors.New("config path is empty")
	}
	loaded, err := ops.Load(f.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	a := &app{
		f:       f,
		loaded:  loaded,
		metrics: obs.NewMetrics(),
		inbound: bus.NewQueue[venue.Event](loaded.Engine.QueueSize),
	}

	if f.pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "marketmaker",
			ServerAddress:   f.pyroscopeAddr,
			Tags:            map[string]string{"market": loaded.Market()},
			Logger:          profilerLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "start pyroscope")
		}
		a.onClose(func() { _ = profiler.Stop() })
	}

	sinks, err := a.sinks(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.hub = audit.NewHub(loaded.Audit.BufferLimit, sinks...)
	a.onClose(a.hub.Close)

	return a, nil
}

func (a *app) sinks(ctx context.Context) ([]audit.Sink, error) {
	market := a.loaded.Market()
	sinks := []audit.Sink{audit.LogSink{}}

	if opt := a.loaded.Audit.Postgres; opt != nil {
		client, err := conn.New(ctx, *opt)
		if err != nil {
			return nil, errors.Wrap(err, "connect audit postgres")
		}
		a.onClose(func() { _ = client.Close() })

		sink, err := audit.NewGormSink(client.DB(), market)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if k := a.loaded.Audit.Kafka; k != nil {
		sinks = append(sinks, audit.NewKafkaSink(k.Brokers, k.Topic, market))
	}

	return sinks, nil
}

// onClose registers cleanup that close runs in reverse order.
func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// run wires the engine to tr and blocks until shutdown. On shutdown the gate
// goes to CANCEL_ALL and the transport gets the grace period to deliver the
// cancels before everything stops.
func (a *app) run(ctx context.Context, tr transport) error {
	defer a.close()

	var (
		srv     *observer.Server
		engOpts []engine.Option
	)
	if a.loaded.Observer.Enabled {
		srv = observer.New(observer.Config{
			Addr:         a.loaded.Observer.Addr,
			PushInterval: a.loaded.Observer.PushInterval,
			EventLimit:   a.loaded.Audit.BufferLimit,
		}, obs.NewRegistry(a.metrics))
		engOpts = append(engOpts, engine.WithSnapshotSink(srv.Publish))
	}

	eng := engine.New(engine.Config{
		Market:           a.loaded.Market(),
		TakerFeePercent:  a.loaded.TakerFeePercent,
		EMAWindow:        a.loaded.Engine.EMAWindow,
		Limits:           a.loaded.Limits,
		SnapshotInterval: a.loaded.Engine.SnapshotInterval,
		PruneInterval:    a.loaded.Engine.PruneInterval,
	}, a.inbound, tr, a.hub, a.metrics, engOpts...)
	mm := strategy.NewMarketMaker(eng.Env(), a.loaded.Strategy)
	eng.SetStrategy(mm)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				logs.Errorf("%s stopped, err: %+v", name, err)
				select {
				case errCh <- errors.Wrap(err, name):
				default:
				}
			}
		}()
	}

	spawn("audit hub", func(ctx context.Context) error {
		a.hub.Run(ctx)
		return nil
	})
	spawn("engine", eng.Run)
	spawn("transport", tr.Run)
	if srv != nil {
		spawn("observer", srv.Run)
	}
	spawn("config watcher", func(ctx context.Context) error {
		ops.Watch(ctx, a.f.configPath, a.f.reload, func(l ops.Loaded) {
			mm.SetParams(l.Strategy)
			if err := eng.SetLimits(ctx, l.Limits); err != nil {
				logs.Warnf("apply reloaded limits, err: %+v", err)
			}
		})
		return nil
	})

	logs.Infof("market maker started on %s", a.loaded.Market())

	var runErr error
	select {
	case <-sys.Shutdown():
		logs.Infof("shutdown requested")
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	haltCtx, haltCancel := context.WithTimeout(context.Background(), a.f.shutdownGrace)
	if err := eng.Halt(haltCtx); err != nil {
		logs.Warnf("halt before shutdown, err: %+v", err)
	} else {
		logs.Infof("cancelling orders, waiting %s", a.f.shutdownGrace)
		<-haltCtx.Done()
	}
	haltCancel()

	cancel()
	wg.Wait()

	snap := a.metrics.Snapshot()
	logs.Infof("metrics: fills=%d rejects=%d desyncs=%d drops=%d event_latency=%+v dispatch_latency=%+v",
		snap.Fills, snap.Rejects, snap.Desyncs, snap.QueueDrops, snap.EventLatency, snap.DispatchLatency)
	return runErr
}

func runLive(ctx context.Context, f flags) error {
	a, err := newApp(ctx, f)
	if err != nil {
		return err
	}
	if err := a.loaded.RequireLive(); err != nil {
		a.close()
		return err
	}

	session := venue.NewSession(a.loaded.Venue, a.inbound, a.metrics)
	a.onClose(session.Close)
	return a.run(ctx, session)
}

func runSimulated(ctx context.Context, f flags) error {
	a, err := newApp(ctx, f)
	if err != nil {
		return err
	}

	v, err := sim.New(a.loaded.Sim, a.inbound)
	if err != nil {
		a.close()
		return err
	}
	return a.run(ctx, v)
}

type profilerLogger struct{}

func (profilerLogger) Infof(string, ...interface{})      {}
func (profilerLogger) Debugf(string, ...interface{})     {}
func (profilerLogger) Errorf(f string, a ...interface{}) { logs.Errorf("pyroscope: "+f, a...) }
