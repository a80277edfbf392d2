//go:build integration

package integration

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/lomesh/lomesh/core"
	"github.com/lomesh/lomesh/state"
	"github.com/stretchr/testify/require"
)

// VirtualLink is one bidirectional radio link in the simulated mesh, with
// configurable latency, jitter and packet loss.
type VirtualLink struct {
	a, b    state.NodeId
	latency time.Duration
	jitter  time.Duration
	loss    float64
}

func (l *VirtualLink) WithLatency(lat, jitter time.Duration) *VirtualLink {
	l.latency = lat
	l.jitter = jitter
	return l
}

func (l *VirtualLink) WithLoss(loss float64) *VirtualLink {
	l.loss = loss
	return l
}

func (l *VirtualLink) connects(x, y state.NodeId) bool {
	return (l.a == x && l.b == y) || (l.a == y && l.b == x)
}

// VirtualMesh owns a set of engines wired together over simulated radio
// links. Broadcasts fan out to every linked peer, subject to each link's
// loss and latency.
type VirtualMesh struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	engines map[state.NodeId]*core.Engine
	links   []*VirtualLink
	wg      sync.WaitGroup
}

func NewVirtualMesh() *VirtualMesh {
	ctx, cancel := context.WithCancel(context.Background())
	return &VirtualMesh{
		ctx:     ctx,
		cancel:  cancel,
		engines: make(map[state.NodeId]*core.Engine),
	}
}

// NewNode starts an engine attached to the mesh. mutate, when non-nil,
// tweaks the node config before construction.
func (m *VirtualMesh) NewNode(t *testing.T, id state.NodeId, mutate func(*state.Config)) *core.Engine {
	t.Helper()
	cfg := state.Config{
		Id:                   id,
		IncrementalPeriod:    state.Duration(20 * time.Millisecond),
		FullPeriod:           state.Duration(70 * time.Millisecond),
		TriggeredMinInterval: state.Duration(5 * time.Millisecond),
		RouteLifetime:        state.Duration(300 * time.Millisecond),
		JitterMin:            state.Duration(time.Microsecond),
		JitterMax:            state.Duration(2 * time.Millisecond),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := core.New(cfg, &radio{mesh: m, self: id})
	require.NoError(t, err)
	e.Start()
	m.mu.Lock()
	m.engines[id] = e
	m.mu.Unlock()
	return e
}

// Link joins two nodes with a lossless zero-latency link by default.
func (m *VirtualMesh) Link(a, b state.NodeId) *VirtualLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &VirtualLink{a: a, b: b}
	m.links = append(m.links, l)
	return l
}

// Cut severs the link between two nodes. Frames already in flight still
// arrive.
func (m *VirtualMesh) Cut(a, b state.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.links {
		if l.connects(a, b) {
			m.links = append(m.links[:i], m.links[i+1:]...)
			return
		}
	}
}

func (m *VirtualMesh) broadcastFrom(src state.NodeId, frame []byte) {
	type hop struct {
		peer  *core.Engine
		delay time.Duration
	}
	m.mu.Lock()
	var hops []hop
	for _, l := range m.links {
		var peer state.NodeId
		switch src {
		case l.a:
			peer = l.b
		case l.b:
			peer = l.a
		default:
			continue
		}
		e, ok := m.engines[peer]
		if !ok || rand.Float64() < l.loss {
			continue
		}
		delay := l.latency
		if l.jitter > 0 {
			delay += time.Duration(rand.Int64N(int64(l.jitter)))
		}
		hops = append(hops, hop{peer: e, delay: delay})
	}
	m.mu.Unlock()

	for _, h := range hops {
		buf := make([]byte, len(frame))
		copy(buf, frame)
		if h.delay == 0 {
			h.peer.HandleFrame(src, buf)
			continue
		}
		m.wg.Add(1)
		go func(h hop, buf []byte) {
			defer m.wg.Done()
			select {
			case <-m.ctx.Done():
			case <-time.After(h.delay):
				h.peer.HandleFrame(src, buf)
			}
		}(h, buf)
	}
}

// Stop drains in-flight deliveries and shuts every engine down.
func (m *VirtualMesh) Stop() {
	m.cancel()
	m.wg.Wait()
	m.mu.Lock()
	engines := make([]*core.Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()
	for _, e := range engines {
		e.Close()
	}
}

// radio adapts the mesh into the engine's transport boundary.
type radio struct {
	mesh *VirtualMesh
	self state.NodeId
}

func (r *radio) Broadcast(frame []byte) error {
	r.mesh.broadcastFrom(r.self, frame)
	return nil
}

func (r *radio) MaxPayloadBytes() int {
	return state.DefaultMaxPayloadBytes
}

func hasRoute(e *core.Engine, dest, wantHop state.NodeId, wantMetric uint16) func() bool {
	return func() bool {
		nh, metric, ok := e.LookupRoute(dest)
		return ok && nh == wantHop && metric == wantMetric
	}
}
