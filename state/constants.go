package state

import "time"

const (
	DefaultIncrementalPeriod    = 10 * time.Second
	DefaultFullPeriod           = 60 * time.Second
	DefaultTriggeredMinInterval = 2 * time.Second
	DefaultRouteLifetime        = 90 * time.Second
	DefaultJitterMin            = 0 * time.Second
	DefaultJitterMax            = 2 * time.Second

	// DefaultNeighborTimeoutFactor derives the neighbor timeout from the
	// incremental period: at least two missed periodic advertisements plus
	// jitter margin before a link is declared broken.
	DefaultNeighborTimeoutFactor = 2.5

	// DefaultMaxPayloadBytes is the advertisement payload ceiling when the
	// transport does not report one. Matches the long-range radio frame
	// budget the engine was built for.
	DefaultMaxPayloadBytes = 222
)

const (
	FullDumpChunked  = "chunked"
	FullDumpWindowed = "windowed"

	JitterUniform     = "uniform"
	JitterExponential = "exponential"
)

var (
	// DumpSeenTTL bounds how long partially received chunked dumps are
	// remembered for the incomplete-dump diagnostic.
	DumpSeenTTL = 30 * time.Second
)
