// Package config holds the kernel's tunables, grounded on the teacher's
// runtime/executor.Config / core/types.ValidationConfig pattern: a plain
// struct, a Default constructor, and field-level bounds checked at load
// time rather than scattered through call sites.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Sandbox bounds tool execution (spec §4.7).
type Sandbox struct {
	DefaultFuel        uint64 `yaml:"default_fuel"`
	HostCallMultiplier uint64 `yaml:"host_call_multiplier"`
	MemoryPages        uint64 `yaml:"memory_pages"` // 64 KiB pages
	TimeoutLogical     uint64 `yaml:"timeout_logical"`
}

// Scheduler bounds the scheduler's backpressure and queueing (spec §4.8).
type Scheduler struct {
	MaxQueuePerWorker   int     `yaml:"max_queue_per_worker"`
	AcceptThreshold     float64 `yaml:"accept_threshold"`   // should_accept below this
	ThrottleThreshold   float64 `yaml:"throttle_threshold"` // should_throttle above this, default 0.5
}

// Snapshot bounds how often the snapshot engine fires on the periodic trigger.
type Snapshot struct {
	EventsBetween uint64 `yaml:"events_between"`
}

// RateLimit bounds a single tool's token bucket (spec §4.5).
type RateLimit struct {
	Capacity       uint64 `yaml:"capacity"`
	RefillPerTick  uint64 `yaml:"refill_per_tick"`
	TickLogical    uint64 `yaml:"tick_logical"`
}

// Cluster bounds liveness detection (spec §5).
type Cluster struct {
	HeartbeatIntervalLogical uint64 `yaml:"heartbeat_interval_logical"`
	SuspectAfterLogical      uint64 `yaml:"suspect_after_logical"`
	DownAfterLogical         uint64 `yaml:"down_after_logical"`
}

// Config is the full tunable set, loaded from YAML.
type Config struct {
	Sandbox   Sandbox   `yaml:"sandbox"`
	Scheduler Scheduler `yaml:"scheduler"`
	Snapshot  Snapshot  `yaml:"snapshot"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Cluster   Cluster   `yaml:"cluster"`
}

// Default returns the kernel's out-of-the-box tunables.
func Default() Config {
	return Config{
		Sandbox: Sandbox{
			DefaultFuel:        1_000_000,
			HostCallMultiplier: 1000,
			MemoryPages:        256, // 16 MiB
			TimeoutLogical:     10_000,
		},
		Scheduler: Scheduler{
			MaxQueuePerWorker: 32,
			AcceptThreshold:   0.8,
			ThrottleThreshold: 0.5,
		},
		Snapshot: Snapshot{EventsBetween: 500},
		RateLimit: RateLimit{
			Capacity:      100,
			RefillPerTick: 10,
			TickLogical:   1,
		},
		Cluster: Cluster{
			HeartbeatIntervalLogical: 5,
			SuspectAfterLogical:      15,
			DownAfterLogical:         45,
		},
	}
}

// Parse decodes and validates YAML config bytes, falling back to Default
// for anything unset.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every bound is sane, returning a descriptive error on
// the first violation.
func (c Config) Validate() error {
	if c.Sandbox.DefaultFuel == 0 {
		return fmt.Errorf("config: sandbox.default_fuel must be > 0")
	}
	if c.Sandbox.MemoryPages == 0 {
		return fmt.Errorf("config: sandbox.memory_pages must be > 0")
	}
	if c.Scheduler.MaxQueuePerWorker <= 0 {
		return fmt.Errorf("config: scheduler.max_queue_per_worker must be > 0")
	}
	if c.Scheduler.ThrottleThreshold <= 0 || c.Scheduler.ThrottleThreshold > 1 {
		return fmt.Errorf("config: scheduler.throttle_threshold must be in (0,1]")
	}
	if c.Scheduler.AcceptThreshold <= 0 || c.Scheduler.AcceptThreshold > 1 {
		return fmt.Errorf("config: scheduler.accept_threshold must be in (0,1]")
	}
	if c.RateLimit.TickLogical == 0 {
		return fmt.Errorf("config: rate_limit.tick_logical must be > 0")
	}
	if c.Cluster.SuspectAfterLogical <= c.Cluster.HeartbeatIntervalLogical {
		return fmt.Errorf("config: cluster.suspect_after_logical must exceed heartbeat_interval_logical")
	}
	if c.Cluster.DownAfterLogical <= c.Cluster.SuspectAfterLogical {
		return fmt.Errorf("config: cluster.down_after_logical must exceed suspect_after_logical")
	}
	return nil
}
