package core

import (
	"math/rand/v2"

	"github.com/lomesh/lomesh/state"
	"github.com/lomesh/lomesh/wire"
)

// The update scheduler owns three timer classes: periodic incremental,
// periodic full, and on-demand triggered sends debounced by a minimum
// interval. Each periodic fire reschedules itself with fresh jitter, so
// advertisement times never synchronize across the mesh.

func (e *Engine) scheduleIncremental() {
	if e.incTimer != nil {
		e.incTimer.Stop()
	}
	e.incTimer = e.env.ScheduleTask(e.incrementalTick, e.incPeriod+e.jitter())
}

func (e *Engine) scheduleFull() {
	if e.fullTimer != nil {
		e.fullTimer.Stop()
	}
	e.fullTimer = e.env.ScheduleTask(e.fullTick, e.fullPeriod+e.jitter())
}

// incrementalTick runs the per-cycle housekeeping that is aligned with the
// incremental timer: link-break detection, garbage collection, then the
// incremental advertisement itself.
func (e *Engine) incrementalTick(s *state.State) error {
	defer e.scheduleIncremental()
	now := s.Clock.Now()

	broken, invalidated := CheckNeighbors(s.RouterState, now, e.neighborTimeout, e.observer())
	for _, n := range broken {
		s.Log.Info("link break detected", "neighbor", n)
	}
	if invalidated > 0 {
		e.maybeTriggered(s)
	}

	if removed := RunGC(s.RouterState, now, e.routeLifetime, e.observer()); removed > 0 {
		s.Log.Debug("reaped stale routes", "count", removed)
	}

	e.sendChangeSet(s, false)
	return nil
}

func (e *Engine) fullTick(s *state.State) error {
	defer e.scheduleFull()
	// Each full dump re-asserts our own reachability under a fresh even
	// sequence number.
	s.BumpSelfSeq(s.Clock.Now())
	e.sendFull(s)
	return nil
}

// maybeTriggered sends an out-of-cycle advertisement covering the pending
// change set, unless one was sent within the debounce interval. Bursts of
// link-break events collapse into a single send; suppressed changes stay in
// the pending set for the next periodic incremental.
func (e *Engine) maybeTriggered(s *state.State) {
	if len(s.Pending) == 0 {
		return
	}
	now := s.Clock.Now()
	if now.Sub(s.LastTriggeredAt) <= e.trigMinInterval {
		return
	}
	s.LastTriggeredAt = now
	e.sendChangeSet(s, true)
}

// sendChangeSet advertises the pending destinations. A set exceeding the
// per-frame cap follows the configured full-dump policy: chunked mode splits
// it over multiple tagged frames, windowed mode sends only the next bounded
// batch and leaves the remainder pending. Destinations are only cleared from
// the pending set once their frame was handed to the transport successfully;
// a failed send leaves them for the next fire.
func (e *Engine) sendChangeSet(s *state.State, triggered bool) {
	dests := s.PendingDests()
	if len(dests) == 0 {
		return
	}
	if !e.chunkedFull && len(dests) > e.maxEntries {
		dests = dests[:e.maxEntries]
	}
	entries := entriesFor(s, dests)
	frames, err := wire.Split(entries, e.maxEntries, false, triggered, uint16(rand.Uint32()))
	if err != nil {
		s.Log.Error("cannot build advertisement", "error", err)
		return
	}
	for _, fr := range frames {
		if !e.broadcast(s, fr) {
			return
		}
		for _, ent := range fr.Entries {
			delete(s.Pending, ent.Destination)
		}
	}
}

func (e *Engine) sendFull(s *state.State) {
	if e.chunkedFull {
		e.sendFullChunked(s)
	} else {
		e.sendFullWindowed(s)
	}
}

func (e *Engine) sendFullChunked(s *state.State) {
	entries := entriesFor(s, s.SortedDests())
	frames, err := wire.Split(entries, e.maxEntries, true, false, uint16(rand.Uint32()))
	if err != nil {
		s.Log.Error("cannot build full dump", "error", err)
		return
	}
	for _, fr := range frames {
		if !e.broadcast(s, fr) {
			return
		}
	}
}

// sendFullWindowed sends the next bounded subset of the table in destination
// order, advancing the rotating offset so the whole table is covered across
// consecutive full periods.
func (e *Engine) sendFullWindowed(s *state.State) {
	dests := s.SortedDests()
	n := len(dests)
	if n == 0 {
		return
	}
	off := s.FullOffset % n
	count := min(e.maxEntries, n)
	window := make([]state.NodeId, 0, count)
	for i := 0; i < count; i++ {
		window = append(window, dests[(off+i)%n])
	}
	fr := &wire.Frame{
		Full:        true,
		ChunkId:     0,
		TotalChunks: 1,
		Entries:     entriesFor(s, window),
	}
	if e.broadcast(s, fr) {
		s.FullOffset = (off + count) % n
	}
}

func (e *Engine) broadcast(s *state.State, fr *wire.Frame) bool {
	data, err := fr.Encode()
	if err != nil {
		s.Log.Error("cannot encode frame", "error", err)
		return false
	}
	if err := e.tr.Broadcast(data); err != nil {
		// Best-effort medium; the content is retried on the next fire.
		s.Log.Warn("broadcast failed", "error", err)
		return false
	}
	return true
}

func entriesFor(s *state.State, dests []state.NodeId) []wire.Entry {
	entries := make([]wire.Entry, 0, len(dests))
	for _, dest := range dests {
		r, ok := s.Routes[dest]
		if !ok {
			// The route was garbage collected after the change was queued.
			delete(s.Pending, dest)
			continue
		}
		entries = append(entries, wire.Entry{
			Destination: dest,
			Seqno:       r.Seqno,
			Metric:      r.Metric,
			Invalid:     !r.Valid,
		})
	}
	return entries
}
