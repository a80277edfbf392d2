package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lomesh/lomesh/state"
	"github.com/lomesh/lomesh/wire"
	"github.com/stretchr/testify/require"
)

// mockTransport records every broadcast frame and can be told to fail.
type mockTransport struct {
	mu         sync.Mutex
	frames     []*wire.Frame
	failing    bool
	maxPayload int
}

func newMockTransport() *mockTransport {
	return &mockTransport{maxPayload: state.DefaultMaxPayloadBytes}
}

func (m *mockTransport) Broadcast(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("medium busy")
	}
	fr, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	m.frames = append(m.frames, fr)
	return nil
}

func (m *mockTransport) MaxPayloadBytes() int {
	return m.maxPayload
}

func (m *mockTransport) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Frames drains and returns everything broadcast so far.
func (m *mockTransport) Frames() []*wire.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.frames
	m.frames = nil
	return out
}

func (m *mockTransport) allEntries(frames []*wire.Frame) []wire.Entry {
	var entries []wire.Entry
	for _, fr := range frames {
		entries = append(entries, fr.Entries...)
	}
	return entries
}

// eventRecorder collects route change events for assertions.
type eventRecorder struct {
	events []state.RouteEvent
}

func (r *eventRecorder) RouteChanged(ev state.RouteEvent) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) take() []state.RouteEvent {
	out := r.events
	r.events = nil
	return out
}

// newTestEngine builds an engine around a mock clock and mock transport
// without starting its goroutine; ticks are invoked synchronously in tests.
func newTestEngine(t *testing.T, mutate func(*state.Config)) (*Engine, *mockTransport, *clock.Mock) {
	t.Helper()
	cfg := state.Config{
		Id:                   1,
		IncrementalPeriod:    state.Duration(10 * time.Second),
		FullPeriod:           state.Duration(60 * time.Second),
		TriggeredMinInterval: state.Duration(2 * time.Second),
		RouteLifetime:        state.Duration(90 * time.Second),
		JitterMin:            state.Duration(time.Nanosecond),
		JitterMax:            state.Duration(time.Nanosecond),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	tr := newMockTransport()
	mk := clock.NewMock()
	e, err := New(cfg, tr, WithClock(mk))
	require.NoError(t, err)
	e.st.InstallSelfRoute(mk.Now())
	return e, tr, mk
}

// addRoute installs a valid route directly, bypassing acceptance.
func addRoute(e *Engine, dest, nextHop state.NodeId, metric uint16, seqno uint32) *state.Route {
	r := &state.Route{
		Destination: dest,
		NextHop:     nextHop,
		Metric:      metric,
		Seqno:       seqno,
		Valid:       true,
		InstalledAt: e.env.Clock.Now(),
	}
	e.st.Routes[dest] = r
	return r
}

// hear simulates having heard from a neighbor at the mock clock's current time.
func hear(e *Engine, neigh state.NodeId) {
	e.st.Touch(neigh, e.env.Clock.Now())
}

func entryFrame(entries ...wire.Entry) *wire.Frame {
	return &wire.Frame{TotalChunks: 1, Entries: entries}
}
