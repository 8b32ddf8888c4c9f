package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
num_cores: 4
l1_dcache:
  size_bytes: 32768
  associativity: 8
  replacement_policy: lru
  access_time_ns: 1
bus:
  bandwidth_bytes_per_sec: 300000000
dram:
  latency_ns: 100
  per_controller_bandwidth: 950000000
fault_injection:
  type: none
`

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, opts.NumCores)
	require.Equal(t, 32768, opts.L1DCache.SizeBytes)
	require.Equal(t, "lru", opts.L1DCache.ReplacementPolicy)
}

func TestValidateRejectsNonPowerOfTwoSize(t *testing.T) {
	opts := Options{NumCores: 1, L1DCache: CacheLevel{SizeBytes: 1000, Associativity: 4}}
	require.Error(t, opts.Validate())
}

func TestValidateRejectsUnknownReplacementPolicy(t *testing.T) {
	opts := Options{NumCores: 1, L1DCache: CacheLevel{SizeBytes: 1024, Associativity: 4, ReplacementPolicy: "random"}}
	require.Error(t, opts.Validate())
}

func TestValidateRejectsOutOfRangeBER(t *testing.T) {
	opts := Options{NumCores: 1, FaultInjection: FaultInjectionConfig{ReadBER: 1.5}}
	require.Error(t, opts.Validate())
}

func TestValidateAcceptsZeroedUnusedLevels(t *testing.T) {
	opts := Options{NumCores: 2}
	require.NoError(t, opts.Validate())
}
