// Package config implements the sealed configuration surface of spec.md
// §6: caching protocol selection, per-level cache parameters, the bus and
// DRAM timing knobs, fault injection, and the sync reschedule cost.
// Grounded on the nested-struct-plus-validation config style seen across
// the corpus (melisai's YAML-driven profiler config) and decoded with
// gopkg.in/yaml.v3 per SPEC_FULL.md §2.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CacheLevel mirrors one of perf_model/{l1_icache,l1_dcache,l2_cache,
// l3_cache}'s knobs.
type CacheLevel struct {
	SizeBytes         int    `yaml:"size_bytes"`
	Associativity     int    `yaml:"associativity"`
	ReplacementPolicy string `yaml:"replacement_policy"`
	AccessTimeNS      float64 `yaml:"access_time_ns"`
	WritebackTimeNS   float64 `yaml:"writeback_time_ns"`
	OutstandingMisses int    `yaml:"outstanding_misses"`
	SharedCores       int    `yaml:"shared_cores"`
	Prefetcher        string `yaml:"prefetcher"`
}

// BusConfig mirrors network/bus's knobs.
type BusConfig struct {
	BandwidthBytesPerSec float64 `yaml:"bandwidth_bytes_per_sec"`
	IgnoreLocalTraffic   bool    `yaml:"ignore_local_traffic"`
	QueueModelType       string  `yaml:"queue_model_type"`
}

// QueueModelConfig mirrors queue_model/windowed_mg1's knob.
type QueueModelConfig struct {
	WindowSizeNS float64 `yaml:"window_size_ns"`
}

// DRAMConfig mirrors perf_model/dram's knobs.
type DRAMConfig struct {
	LatencyNS             float64 `yaml:"latency_ns"`
	PerControllerBandwidth float64 `yaml:"per_controller_bandwidth"`
	NumControllers        int     `yaml:"num_controllers"`
}

// FaultInjectionConfig mirrors fault_injection's knobs. The demo driver
// (cmd/memsim-core) installs the single range [0, 1<<40) for any Type other
// than none, so random and range behave alike there; Affected is decoded
// but not read anywhere.
type FaultInjectionConfig struct {
	Type     string  `yaml:"type"` // none | random | range
	Affected string  `yaml:"affected"`
	ReadBER  float64 `yaml:"read_ber"`
	WriteBER float64 `yaml:"write_ber"`
	Seed     int64   `yaml:"seed"`
}

// SyncConfig mirrors perf_model/sync's knob.
type SyncConfig struct {
	RescheduleCostNS float64 `yaml:"reschedule_cost_ns"`
}

// Options is the sealed configuration struct spec.md §9's redesign note
// calls for in place of macro-conditional compilation: every feature this
// module supports reads a field here rather than a preprocessor symbol.
type Options struct {
	CachingProtocolType string `yaml:"caching_protocol_type"`

	NumCores int `yaml:"num_cores"`
	NumHomes int `yaml:"num_homes"`

	L1ICache CacheLevel `yaml:"l1_icache"`
	L1DCache CacheLevel `yaml:"l1_dcache"`
	L2Cache  CacheLevel `yaml:"l2_cache"`
	L3Cache  CacheLevel `yaml:"l3_cache"`

	Bus        BusConfig        `yaml:"bus"`
	QueueModel QueueModelConfig `yaml:"queue_model"`
	DRAM       DRAMConfig       `yaml:"dram"`

	FaultInjection FaultInjectionConfig `yaml:"fault_injection"`
	Sync           SyncConfig           `yaml:"sync"`

	// Syntax mirrors general/syntax (e.g. "intel" vs "att"), carried
	// through unmodified since decoding instruction text is out of this
	// module's scope.
	Syntax string `yaml:"syntax"`
}

// Load decodes and validates a configuration file.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate enforces spec.md §7's "Configuration invalid: unknown policy,
// non-power-of-two size, negative timing" fatal-at-init rule.
func (o Options) Validate() error {
	if o.NumCores <= 0 {
		return fmt.Errorf("config: num_cores must be positive, got %d", o.NumCores)
	}
	for name, lvl := range map[string]CacheLevel{
		"l1_icache": o.L1ICache,
		"l1_dcache": o.L1DCache,
		"l2_cache":  o.L2Cache,
		"l3_cache":  o.L3Cache,
	} {
		if lvl.SizeBytes == 0 {
			continue // level not configured/used
		}
		if err := validateCacheLevel(name, lvl); err != nil {
			return err
		}
	}
	if o.Bus.BandwidthBytesPerSec < 0 {
		return fmt.Errorf("config: bus bandwidth must be non-negative")
	}
	if o.DRAM.LatencyNS < 0 {
		return fmt.Errorf("config: dram latency must be non-negative")
	}
	if ber := o.FaultInjection.ReadBER; ber < 0 || ber > 1 {
		return fmt.Errorf("config: fault_injection.read_ber must be in [0,1], got %v", ber)
	}
	if ber := o.FaultInjection.WriteBER; ber < 0 || ber > 1 {
		return fmt.Errorf("config: fault_injection.write_ber must be in [0,1], got %v", ber)
	}
	return nil
}

func validateCacheLevel(name string, lvl CacheLevel) error {
	if lvl.SizeBytes <= 0 || lvl.SizeBytes&(lvl.SizeBytes-1) != 0 {
		return fmt.Errorf("config: %s.size_bytes must be a power of two, got %d", name, lvl.SizeBytes)
	}
	if lvl.Associativity <= 0 {
		return fmt.Errorf("config: %s.associativity must be positive", name)
	}
	switch lvl.ReplacementPolicy {
	case "lru", "srrip", "":
	default:
		return fmt.Errorf("config: %s.replacement_policy %q is not one of lru, srrip", name, lvl.ReplacementPolicy)
	}
	if lvl.AccessTimeNS < 0 || lvl.WritebackTimeNS < 0 {
		return fmt.Errorf("config: %s timing fields must be non-negative", name)
	}
	return nil
}
