package core

import (
	"time"

	"github.com/lomesh/lomesh/state"
)

// CheckNeighbors scans every neighbor record for advertisement silence
// exceeding the timeout and invalidates all routes through broken neighbors.
// Invalidated routes get an odd sequence number strictly newer than the last
// accepted one, so the retraction can never be rejected as stale.
//
// It reports the neighbors that broke this cycle and how many routes were
// invalidated; the caller decides whether a triggered advertisement is due.
func CheckNeighbors(rs *state.RouterState, now time.Time, timeout time.Duration, obs Observer) (broken []state.NodeId, invalidated int) {
	for id, n := range rs.Neighbors {
		if now.Sub(n.LastHeard) <= timeout {
			continue
		}
		count := invalidateVia(rs, now, id, obs)
		if count > 0 {
			broken = append(broken, id)
			invalidated += count
		}
	}
	return broken, invalidated
}

func invalidateVia(rs *state.RouterState, now time.Time, neigh state.NodeId, obs Observer) int {
	count := 0
	for dest, r := range rs.Routes {
		if dest == rs.Id || !r.Valid || r.NextHop != neigh {
			continue
		}
		r.Metric = state.Inf
		r.Valid = false
		r.Seqno = state.NextOdd(r.Seqno)
		r.InstalledAt = now
		rs.MarkPending(dest)
		notify(obs, r.Event())
		count++
	}
	return count
}
