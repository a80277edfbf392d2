package core

// The acceptance rules follow the destination-sequenced distance-vector
// scheme of Perkins & Bhagwat (SIGCOMM '94): a newer origin sequence number
// always wins, and an equal sequence number is ignored regardless of metric.
// Recency of origination, not path cost, is the tie-break authority.

import (
	"time"

	"github.com/lomesh/lomesh/state"
	"github.com/lomesh/lomesh/wire"
)

// Observer receives a diagnostic event for every route mutation. A nil
// Observer is valid and ignored.
type Observer interface {
	RouteChanged(ev state.RouteEvent)
}

type observerFunc func(state.RouteEvent)

func (f observerFunc) RouteChanged(ev state.RouteEvent) { f(ev) }

func notify(obs Observer, ev state.RouteEvent) {
	if obs != nil {
		obs.RouteChanged(ev)
	}
}

// ApplyFrame runs every entry of a decoded advertisement from one neighbor
// through the acceptance rules. It reports how many entries were accepted
// and how many of those were invalidations, so the caller can decide whether
// a triggered advertisement is warranted.
func ApplyFrame(rs *state.RouterState, now time.Time, from state.NodeId, fr *wire.Frame, obs Observer) (accepted, invalidated int) {
	for _, ent := range fr.Entries {
		acc, inv := handleEntry(rs, now, from, ent, obs)
		if acc {
			accepted++
		}
		if inv {
			invalidated++
		}
	}
	return accepted, invalidated
}

func handleEntry(rs *state.RouterState, now time.Time, from state.NodeId, ent wire.Entry, obs Observer) (accepted, invalidated bool) {
	unreachable := ent.Invalid || ent.Metric == state.Inf

	if ent.Destination == rs.Id {
		return handleSelfEntry(rs, now, ent, obs), false
	}

	cur, exists := rs.Routes[ent.Destination]
	if exists && !state.SeqnoNewer(ent.Seqno, cur.Seqno) {
		// Equal generation is ignored unconditionally, even when the
		// advertised path would be cheaper. Older is ignored too.
		return false, false
	}

	r := cur
	if !exists {
		// An invalidation for a destination we never knew still installs an
		// entry, so the retraction keeps propagating.
		r = &state.Route{Destination: ent.Destination}
		rs.Routes[ent.Destination] = r
	}

	wasValid := exists && cur.Valid
	r.Seqno = ent.Seqno
	r.NextHop = from
	r.InstalledAt = now
	metric := state.AddHop(ent.Metric)
	if unreachable || metric == state.Inf {
		// metric saturation counts as unreachable, keeping
		// Valid == false equivalent to Metric == Inf
		r.Metric = state.Inf
		r.Valid = false
	} else {
		r.Metric = metric
		r.Valid = true
	}
	rs.MarkPending(ent.Destination)
	notify(obs, r.Event())
	return true, wasValid && !r.Valid
}

// handleSelfEntry defends this node's own destination: a peer echoing our id
// with a sequence number not older than ours (typically an odd invalidation
// after a false link-break) makes us re-assert reachability with a newer
// even sequence number.
func handleSelfEntry(rs *state.RouterState, now time.Time, ent wire.Entry, obs Observer) bool {
	if !state.SeqnoNewer(ent.Seqno, rs.SelfSeq) {
		return false
	}
	// Reachable or not, a newer generation of our own id must be outrun.
	rs.SelfSeq = state.NextEven(ent.Seqno)
	self, ok := rs.Routes[rs.Id]
	if !ok {
		rs.InstallSelfRoute(now)
		self = rs.Routes[rs.Id]
	}
	self.Seqno = rs.SelfSeq
	self.Metric = 0
	self.Valid = true
	self.NextHop = rs.Id
	self.InstalledAt = now
	rs.MarkPending(rs.Id)
	notify(obs, self.Event())
	return true
}
