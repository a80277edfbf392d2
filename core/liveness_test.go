package core

import (
	"testing"
	"time"

	"github.com/lomesh/lomesh/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neighborTimeout=30s, nothing heard from B
// for 35s. Every route via B is invalidated with an odd, strictly newer
// sequence number.
func TestLinkBreakInvalidatesRoutes(t *testing.T) {
	e, _, mk := newTestEngine(t, nil)
	rec := &eventRecorder{}

	hear(e, 2)
	addRoute(e, 5, 2, 2, 4)  // even seqno
	addRoute(e, 6, 2, 3, 9)  // odd seqno already
	addRoute(e, 7, 3, 1, 2)  // via another neighbor
	hear(e, 3)

	mk.Add(35 * time.Second)
	e.st.Touch(3, mk.Now()) // neighbor 3 stays fresh

	broken, invalidated := CheckNeighbors(e.st.RouterState, mk.Now(), 30*time.Second, rec)
	assert.Equal(t, []state.NodeId{2}, broken)
	assert.Equal(t, 2, invalidated)

	r5 := e.st.Routes[5]
	assert.False(t, r5.Valid)
	assert.Equal(t, state.Inf, r5.Metric)
	assert.Equal(t, uint32(5), r5.Seqno, "4 bumps to the next odd value 5")

	r6 := e.st.Routes[6]
	assert.False(t, r6.Valid)
	assert.Equal(t, uint32(11), r6.Seqno, "9 skips even 10 and lands on 11")

	r7 := e.st.Routes[7]
	assert.True(t, r7.Valid, "routes via healthy neighbors are untouched")

	assert.Contains(t, e.st.Pending, state.NodeId(5))
	assert.Contains(t, e.st.Pending, state.NodeId(6))
	assert.NotContains(t, e.st.Pending, state.NodeId(7))
	assert.Len(t, rec.take(), 2)
}

// Within the timeout a neighbor is never marked broken, no matter how many
// checks run.
func TestNoBreakWithinTimeout(t *testing.T) {
	e, _, mk := newTestEngine(t, nil)
	hear(e, 2)
	addRoute(e, 5, 2, 2, 4)

	for i := 0; i < 10; i++ {
		mk.Add(3 * time.Second)
		e.st.Touch(2, mk.Now())
		broken, _ := CheckNeighbors(e.st.RouterState, mk.Now(), 30*time.Second, nil)
		assert.Empty(t, broken)
	}
	assert.True(t, e.st.Routes[5].Valid)
}

func TestSingleMissDoesNotBreak(t *testing.T) {
	e, _, mk := newTestEngine(t, nil)
	hear(e, 2)
	addRoute(e, 5, 2, 2, 4)

	// one missed incremental period (10s) is well inside the 25s default
	mk.Add(12 * time.Second)
	broken, _ := CheckNeighbors(e.st.RouterState, mk.Now(), e.neighborTimeout, nil)
	assert.Empty(t, broken)
	assert.True(t, e.st.Routes[5].Valid)
}

// A break is only reported while it still invalidates something; repeated
// checks must not keep bumping sequence numbers.
func TestBreakNotRepeated(t *testing.T) {
	e, _, mk := newTestEngine(t, nil)
	hear(e, 2)
	addRoute(e, 5, 2, 2, 4)

	mk.Add(time.Minute)
	broken, _ := CheckNeighbors(e.st.RouterState, mk.Now(), 30*time.Second, nil)
	require.Equal(t, []state.NodeId{2}, broken)
	seq := e.st.Routes[5].Seqno

	broken, invalidated := CheckNeighbors(e.st.RouterState, mk.Now(), 30*time.Second, nil)
	assert.Empty(t, broken)
	assert.Equal(t, 0, invalidated)
	assert.Equal(t, seq, e.st.Routes[5].Seqno)
}

func TestSelfRouteSurvivesBreaks(t *testing.T) {
	e, _, mk := newTestEngine(t, nil)
	hear(e, 1) // pathological: our own id recorded as neighbor
	mk.Add(time.Hour)
	CheckNeighbors(e.st.RouterState, mk.Now(), 30*time.Second, nil)
	assert.True(t, e.st.Routes[1].Valid)
}
