package core

import (
	"time"

	"github.com/lomesh/lomesh/state"
)

// RunGC reaps invalid routes that have outlived the route lifetime, freeing
// the destination for a clean re-announcement by its owner. The self route
// is exempt; its owner revalidates it by bumping its own sequence number.
func RunGC(rs *state.RouterState, now time.Time, lifetime time.Duration, obs Observer) (removed int) {
	for dest, r := range rs.Routes {
		if dest == rs.Id || r.Valid {
			continue
		}
		if now.Sub(r.InstalledAt) <= lifetime {
			continue
		}
		delete(rs.Routes, dest)
		ev := r.Event()
		ev.Removed = true
		notify(obs, ev)
		removed++
	}
	return removed
}
