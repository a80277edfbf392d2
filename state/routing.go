package state

import (
	"slices"
	"time"
)

// NodeId identifies a node on the mesh. Identifiers are numeric because they
// travel in every advertisement entry and air-time is the scarce resource.
type NodeId uint16

const (
	// Inf is the distinguished metric meaning unreachable.
	Inf uint16 = 0x3FFF
	// MaxMetric is the largest metric that still denotes a reachable route.
	MaxMetric = Inf - 1
)

// Route is the table entry for one known destination.
type Route struct {
	Destination NodeId
	// NextHop is only meaningful while Valid is true.
	NextHop NodeId
	Metric  uint16
	// Seqno is originated by Destination. Even means reachable, odd means
	// unreachable as of that generation.
	Seqno uint32
	Valid bool
	// InstalledAt is the time of the last mutation, used by the garbage
	// collector to age out invalid routes.
	InstalledAt time.Time
}

// NeighborRecord tracks the last time we heard any advertisement from a
// neighbor. Records are never deleted; a stale record just means link down.
type NeighborRecord struct {
	Id        NodeId
	LastHeard time.Time
}

// RouteEvent is handed to diagnostic consumers whenever a route is mutated
// or removed. It is not part of the routing algorithm.
type RouteEvent struct {
	Destination NodeId
	NextHop     NodeId
	Metric      uint16
	Seqno       uint32
	Valid       bool
	InstalledAt time.Time
	Removed     bool
}

// RouterState holds all mutable routing state of one node. It is exclusively
// owned by the engine goroutine; nothing else may mutate it.
type RouterState struct {
	Id      NodeId
	SelfSeq uint32

	Routes    map[NodeId]*Route
	Neighbors map[NodeId]*NeighborRecord

	// Pending accumulates destinations whose route changed since the last
	// successful incremental send.
	Pending map[NodeId]struct{}

	LastTriggeredAt time.Time

	// FullOffset is the rotating cursor for windowed full dumps.
	FullOffset int
}

func NewRouterState(id NodeId) *RouterState {
	return &RouterState{
		Id:        id,
		Routes:    make(map[NodeId]*Route),
		Neighbors: make(map[NodeId]*NeighborRecord),
		Pending:   make(map[NodeId]struct{}),
	}
}

// InstallSelfRoute creates the route this node originates for itself.
func (rs *RouterState) InstallSelfRoute(now time.Time) {
	rs.Routes[rs.Id] = &Route{
		Destination: rs.Id,
		NextHop:     rs.Id,
		Metric:      0,
		Seqno:       rs.SelfSeq,
		Valid:       true,
		InstalledAt: now,
	}
}

// BumpSelfSeq advances our own sequence number to the next even value and
// refreshes the self route with it.
func (rs *RouterState) BumpSelfSeq(now time.Time) {
	rs.SelfSeq = NextEven(rs.SelfSeq)
	if self, ok := rs.Routes[rs.Id]; ok {
		self.Seqno = rs.SelfSeq
		self.Valid = true
		self.Metric = 0
		self.InstalledAt = now
	} else {
		rs.InstallSelfRoute(now)
	}
}

func (rs *RouterState) MarkPending(dest NodeId) {
	rs.Pending[dest] = struct{}{}
}

// PendingDests returns the pending change set in destination order.
func (rs *RouterState) PendingDests() []NodeId {
	dests := make([]NodeId, 0, len(rs.Pending))
	for d := range rs.Pending {
		dests = append(dests, d)
	}
	slices.Sort(dests)
	return dests
}

// SortedDests returns every known destination in table order.
func (rs *RouterState) SortedDests() []NodeId {
	dests := make([]NodeId, 0, len(rs.Routes))
	for d := range rs.Routes {
		dests = append(dests, d)
	}
	slices.Sort(dests)
	return dests
}

// Touch records that we heard from a neighbor, creating the record on first
// contact. Reports whether the neighbor is new.
func (rs *RouterState) Touch(neigh NodeId, now time.Time) bool {
	n, ok := rs.Neighbors[neigh]
	if !ok {
		rs.Neighbors[neigh] = &NeighborRecord{Id: neigh, LastHeard: now}
		return true
	}
	n.LastHeard = now
	return false
}

func (r *Route) Event() RouteEvent {
	return RouteEvent{
		Destination: r.Destination,
		NextHop:     r.NextHop,
		Metric:      r.Metric,
		Seqno:       r.Seqno,
		Valid:       r.Valid,
		InstalledAt: r.InstalledAt,
	}
}

// SeqnoNewer reports whether a is strictly newer than b, using the
// wraparound-safe signed comparison over the 32-bit counter space.
func SeqnoNewer(a, b uint32) bool {
	return int32(a-b) > 0
}

// NextOdd returns the smallest odd value strictly newer than s.
func NextOdd(s uint32) uint32 {
	s++
	if s%2 == 0 {
		s++
	}
	return s
}

// NextEven returns the smallest even value strictly newer than s.
func NextEven(s uint32) uint32 {
	s++
	if s%2 == 1 {
		s++
	}
	return s
}

// AddHop adds the cost of one hop to an advertised metric, saturating at
// unreachable instead of wrapping.
func AddHop(m uint16) uint16 {
	if m >= MaxMetric {
		return Inf
	}
	return m + 1
}
