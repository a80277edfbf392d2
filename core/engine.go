package core

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"
	"github.com/lomesh/lomesh/state"
	"github.com/lomesh/lomesh/wire"
)

// Transport is the boundary to whatever actually moves frames over the air.
// Broadcast is best effort; the engine never waits for delivery.
type Transport interface {
	Broadcast(frame []byte) error
	MaxPayloadBytes() int
}

// Engine is one node's routing engine. All routing state is owned by a
// single goroutine draining the dispatch channel; frame arrivals and timer
// fires are delivered to it as discrete events.
type Engine struct {
	env *state.Env
	st  *state.State
	tr  Transport

	onRouteChanged func(state.RouteEvent)

	// resolved timing knobs
	incPeriod       time.Duration
	fullPeriod      time.Duration
	trigMinInterval time.Duration
	routeLifetime   time.Duration
	jitterMin       time.Duration
	jitterMax       time.Duration
	jitterDist      string
	neighborTimeout time.Duration

	maxEntries  int
	chunkedFull bool

	incTimer  *clock.Timer
	fullTimer *clock.Timer

	// dumpSeen tracks chunk receipt per (origin, dumpId) purely for the
	// incomplete-dump diagnostic; acceptance never gates on it.
	dumpSeen *ttlcache.Cache[dumpKey, *dumpProgress]

	converged bool
	started   atomic.Bool

	dispatch chan func(*state.State) error
	done     chan struct{}
}

type dumpKey struct {
	Origin state.NodeId
	DumpId uint16
}

type dumpProgress struct {
	Total uint8
	Seen  map[uint8]struct{}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock injects the time source, usually a mock in tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.env.Clock = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.env.Log = log }
}

// WithRouteChanged installs the diagnostic hook. It is invoked on the engine
// goroutine and must not block or call back into the engine.
func WithRouteChanged(fn func(state.RouteEvent)) Option {
	return func(e *Engine) { e.onRouteChanged = fn }
}

func New(cfg state.Config, tr Transport, opts ...Option) (*Engine, error) {
	if tr == nil {
		return nil, errors.New("engine requires a transport")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(*state.State) error, 128)
	e := &Engine{
		env: &state.Env{
			DispatchChannel: dispatch,
			Clock:           clock.New(),
			Context:         ctx,
			Cancel:          cancel,
			Log:             slog.Default(),
			Cfg:             cfg,
		},
		tr:              tr,
		incPeriod:       cfg.IncrementalPeriod.Std(),
		fullPeriod:      cfg.FullPeriod.Std(),
		trigMinInterval: cfg.TriggeredMinInterval.Std(),
		routeLifetime:   cfg.RouteLifetime.Std(),
		jitterMin:       cfg.JitterMin.Std(),
		jitterMax:       cfg.JitterMax.Std(),
		jitterDist:      cfg.JitterDist,
		neighborTimeout: cfg.ResolvedNeighborTimeout(),
		chunkedFull:     cfg.FullDumpMode == state.FullDumpChunked,
		dispatch:        dispatch,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.env.Log = e.env.Log.With("node", cfg.Id)

	maxPayload := state.DefaultMaxPayloadBytes
	if tr.MaxPayloadBytes() > 0 {
		maxPayload = tr.MaxPayloadBytes()
	}
	e.maxEntries = wire.MaxEntries(maxPayload)
	if cfg.MaxEntriesPerFrame > 0 && cfg.MaxEntriesPerFrame < e.maxEntries {
		e.maxEntries = cfg.MaxEntriesPerFrame
	}

	e.dumpSeen = ttlcache.New[dumpKey, *dumpProgress](
		ttlcache.WithTTL[dumpKey, *dumpProgress](state.DumpSeenTTL),
		ttlcache.WithDisableTouchOnHit[dumpKey, *dumpProgress](),
	)
	e.dumpSeen.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[dumpKey, *dumpProgress]) {
		p := item.Value()
		if reason == ttlcache.EvictionReasonExpired && len(p.Seen) < int(p.Total) {
			e.env.Log.Debug("full dump never completed",
				"origin", item.Key().Origin, "dump", item.Key().DumpId,
				"seen", len(p.Seen), "total", p.Total)
		}
	})

	e.st = &state.State{
		Env:         e.env,
		RouterState: state.NewRouterState(cfg.Id),
	}
	return e, nil
}

// Start installs the self route, arms the periodic timers and spawns the
// engine goroutine. LookupRoute and Snapshot are only valid after Start.
func (e *Engine) Start() {
	e.st.InstallSelfRoute(e.env.Clock.Now())
	e.scheduleIncremental()
	e.scheduleFull()
	go e.dumpSeen.Start()
	go e.mainLoop()
	e.started.Store(true)
}

// Close stops the engine. Safe to call on a never-started engine; on a
// started one it waits for the engine goroutine to exit.
func (e *Engine) Close() {
	e.env.Cancel(context.Canceled)
	if !e.started.Load() {
		return
	}
	e.dumpSeen.Stop()
	<-e.done
	// The timer fields are rewritten by tick reschedules on the engine
	// goroutine; only stop them once that goroutine has exited.
	if e.incTimer != nil {
		e.incTimer.Stop()
	}
	if e.fullTimer != nil {
		e.fullTimer.Stop()
	}
}

func (e *Engine) mainLoop() {
	defer close(e.done)
	e.env.Log.Debug("engine loop started")
	for {
		select {
		case fun := <-e.dispatch:
			if err := fun(e.st); err != nil {
				e.env.Log.Error("error during dispatch", "error", err)
				e.env.Cancel(err)
			}
		case <-e.env.Context.Done():
			e.env.Log.Debug("engine loop stopped", "reason", context.Cause(e.env.Context))
			return
		}
	}
}

// HandleFrame is the inbound event entry point, invoked once per received
// frame by the transport or environment. Malformed frames are discarded
// without mutating the table.
func (e *Engine) HandleFrame(sender state.NodeId, data []byte) {
	e.env.Dispatch(func(s *state.State) error {
		if sender == s.Id {
			return nil
		}
		fr, err := wire.Decode(data)
		if err != nil {
			s.Log.Debug("discarding malformed frame", "from", sender, "error", err)
			return nil
		}
		e.noteDump(sender, fr)
		if s.Touch(sender, s.Clock.Now()) {
			s.Log.Debug("heard new neighbor", "neighbor", sender)
		}
		_, invalidated := ApplyFrame(s.RouterState, s.Clock.Now(), sender, fr, e.observer())
		if invalidated > 0 {
			e.maybeTriggered(s)
		}
		e.checkConverged(s)
		return nil
	})
}

func (e *Engine) noteDump(sender state.NodeId, fr *wire.Frame) {
	if !fr.Full || fr.TotalChunks <= 1 {
		return
	}
	key := dumpKey{Origin: sender, DumpId: fr.DumpId}
	item := e.dumpSeen.Get(key)
	var p *dumpProgress
	if item == nil {
		p = &dumpProgress{Total: fr.TotalChunks, Seen: make(map[uint8]struct{})}
		e.dumpSeen.Set(key, p, ttlcache.DefaultTTL)
	} else {
		p = item.Value()
	}
	p.Seen[fr.ChunkId] = struct{}{}
	if len(p.Seen) == int(p.Total) {
		e.dumpSeen.Delete(key)
	}
}

// LookupRoute returns the next hop and metric for a destination, or false
// when the destination is unknown or currently unreachable. Safe to call
// from any goroutine.
func (e *Engine) LookupRoute(dest state.NodeId) (state.NodeId, uint16, bool) {
	res, err := e.env.DispatchWait(func(s *state.State) (any, error) {
		r, ok := s.Routes[dest]
		if !ok || !r.Valid {
			return nil, nil
		}
		return state.Pair[state.NodeId, uint16]{V1: r.NextHop, V2: r.Metric}, nil
	})
	if err != nil || res == nil {
		return 0, state.Inf, false
	}
	p := res.(state.Pair[state.NodeId, uint16])
	return p.V1, p.V2, true
}

// Snapshot returns a copy of the routing table in destination order, for
// diagnostic consumers.
func (e *Engine) Snapshot() []state.Route {
	res, err := e.env.DispatchWait(func(s *state.State) (any, error) {
		out := make([]state.Route, 0, len(s.Routes))
		for _, dest := range s.SortedDests() {
			out = append(out, *s.Routes[dest])
		}
		return out, nil
	})
	if err != nil {
		return nil
	}
	return res.([]state.Route)
}

// TableSize reports how many destinations the table currently covers.
func (e *Engine) TableSize() int {
	res, err := e.env.DispatchWait(func(s *state.State) (any, error) {
		return len(s.Routes), nil
	})
	if err != nil {
		return 0
	}
	return res.(int)
}

func (e *Engine) observer() Observer {
	if e.onRouteChanged == nil {
		return nil
	}
	return observerFunc(e.onRouteChanged)
}

func (e *Engine) checkConverged(s *state.State) {
	want := s.Cfg.ExpectedDestinations
	if e.converged || want == 0 || len(s.Routes) < want {
		return
	}
	e.converged = true
	s.Log.Info("routing table reached expected coverage", "destinations", len(s.Routes))
}

func (e *Engine) jitter() time.Duration {
	span := e.jitterMax - e.jitterMin
	if span <= 0 {
		return e.jitterMin
	}
	if e.jitterDist == state.JitterExponential {
		mean := float64(e.jitterMin+e.jitterMax) / 2
		j := time.Duration(rand.ExpFloat64() * mean)
		return min(max(j, e.jitterMin), e.jitterMax)
	}
	return e.jitterMin + time.Duration(rand.Int64N(int64(span)+1))
}
