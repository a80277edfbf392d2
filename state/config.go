package state

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that round-trips through YAML in the human
// form ("10s", "1m30s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full tuning surface of one routing engine instance.
type Config struct {
	// Id is this node's identifier on the mesh.
	Id NodeId `yaml:"id"`

	IncrementalPeriod    Duration `yaml:"incremental_period,omitempty"`
	FullPeriod           Duration `yaml:"full_period,omitempty"`
	TriggeredMinInterval Duration `yaml:"triggered_min_interval,omitempty"`
	RouteLifetime        Duration `yaml:"route_lifetime,omitempty"`

	JitterMin Duration `yaml:"jitter_min,omitempty"`
	JitterMax Duration `yaml:"jitter_max,omitempty"`
	// JitterDist selects the inter-advertisement jitter distribution,
	// "uniform" (default) or "exponential".
	JitterDist string `yaml:"jitter_dist,omitempty"`

	// NeighborTimeout overrides the derived link-break timeout. Zero means
	// NeighborTimeoutFactor times the incremental period.
	NeighborTimeout       Duration `yaml:"neighbor_timeout,omitempty"`
	NeighborTimeoutFactor float64  `yaml:"neighbor_timeout_factor,omitempty"`

	// MaxEntriesPerFrame caps entries per advertisement frame. Zero means
	// derive from the transport payload ceiling.
	MaxEntriesPerFrame int `yaml:"max_entries_per_frame,omitempty"`

	// FullDumpMode selects how oversized full dumps are split:
	// "chunked" (default) or "windowed".
	FullDumpMode string `yaml:"full_dump_mode,omitempty"`

	// ExpectedDestinations, when non-zero, makes the engine log once when
	// the routing table first covers this many destinations.
	ExpectedDestinations int `yaml:"expected_destinations,omitempty"`

	LogPath string `yaml:"log_path,omitempty"`
}

// ApplyDefaults fills every unset knob with its default value.
func (c *Config) ApplyDefaults() {
	if c.IncrementalPeriod == 0 {
		c.IncrementalPeriod = Duration(DefaultIncrementalPeriod)
	}
	if c.FullPeriod == 0 {
		c.FullPeriod = Duration(DefaultFullPeriod)
	}
	if c.TriggeredMinInterval == 0 {
		c.TriggeredMinInterval = Duration(DefaultTriggeredMinInterval)
	}
	if c.RouteLifetime == 0 {
		c.RouteLifetime = Duration(DefaultRouteLifetime)
	}
	if c.JitterMax == 0 {
		c.JitterMax = Duration(DefaultJitterMax)
	}
	if c.JitterDist == "" {
		c.JitterDist = JitterUniform
	}
	if c.NeighborTimeoutFactor == 0 {
		c.NeighborTimeoutFactor = DefaultNeighborTimeoutFactor
	}
	if c.FullDumpMode == "" {
		c.FullDumpMode = FullDumpChunked
	}
}

// Validate checks the config after defaults have been applied.
func (c *Config) Validate() error {
	if c.IncrementalPeriod <= 0 {
		return fmt.Errorf("incremental_period must be positive, got %s", c.IncrementalPeriod.Std())
	}
	if c.FullPeriod.Std() <= c.IncrementalPeriod.Std() {
		return fmt.Errorf("full_period (%s) must be larger than incremental_period (%s)",
			c.FullPeriod.Std(), c.IncrementalPeriod.Std())
	}
	if c.TriggeredMinInterval < 0 || c.RouteLifetime <= 0 {
		return fmt.Errorf("triggered_min_interval and route_lifetime must be positive")
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter range [%s, %s] is invalid", c.JitterMin.Std(), c.JitterMax.Std())
	}
	switch c.JitterDist {
	case JitterUniform, JitterExponential:
	default:
		return fmt.Errorf("jitter_dist must be %q or %q, got %q", JitterUniform, JitterExponential, c.JitterDist)
	}
	switch c.FullDumpMode {
	case FullDumpChunked, FullDumpWindowed:
	default:
		return fmt.Errorf("full_dump_mode must be %q or %q, got %q", FullDumpChunked, FullDumpWindowed, c.FullDumpMode)
	}
	if c.NeighborTimeout == 0 && c.NeighborTimeoutFactor <= 1 {
		return fmt.Errorf("neighbor_timeout_factor must exceed 1, got %v", c.NeighborTimeoutFactor)
	}
	if c.MaxEntriesPerFrame < 0 {
		return fmt.Errorf("max_entries_per_frame must not be negative")
	}
	return nil
}

// ResolvedNeighborTimeout returns the configured timeout, or the factor
// derivation against the incremental period when unset.
func (c *Config) ResolvedNeighborTimeout() time.Duration {
	if c.NeighborTimeout != 0 {
		return c.NeighborTimeout.Std()
	}
	return time.Duration(float64(c.IncrementalPeriod.Std()) * c.NeighborTimeoutFactor)
}
