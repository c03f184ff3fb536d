// Package config handles RayDB's engine configuration: environment
// variables for process-level deployment, and an optional YAML file for
// everything else, following the same LoadFromEnv/Validate/String shape the
// rest of this codebase's config layer has always used.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - RAYDB_READ_ONLY=false
//   - RAYDB_CREATE_IF_MISSING=true
//   - RAYDB_LOCK_FILE=true
//   - RAYDB_MVCC=false
//   - RAYDB_MVCC_GC_INTERVAL_MS=5000
//   - RAYDB_MVCC_RETENTION_MS=60000
//   - RAYDB_MVCC_MAX_CHAIN_DEPTH=10
//   - RAYDB_AUTO_CHECKPOINT=true
//   - RAYDB_CHECKPOINT_THRESHOLD=0.8
//   - RAYDB_CACHE_SNAPSHOT=true
//   - RAYDB_PAGE_SIZE=4096
//   - RAYDB_WAL_SIZE=64MiB
//   - RAYDB_SYNC_MODE=full|batch|off
//   - RAYDB_BACKEND=native|badger
//   - RAYDB_DATA_DIR=./data
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized RayDB option (spec.md §6's "Options" table,
// enumerated in full — every option named there has a field here).
type Config struct {
	ReadOnly        bool   `yaml:"readOnly"`
	CreateIfMissing bool   `yaml:"createIfMissing"`
	LockFile        bool   `yaml:"lockFile"`
	DataDir         string `yaml:"dataDir"`
	Backend         string `yaml:"backend"` // "native" (snapshot+delta+WAL) or "badger" (legacy)

	MVCC              bool  `yaml:"mvcc"`
	MVCCGCIntervalMs  int   `yaml:"mvccGcIntervalMs"`
	MVCCRetentionMs   int64 `yaml:"mvccRetentionMs"`
	MVCCMaxChainDepth int   `yaml:"mvccMaxChainDepth"`

	AutoCheckpoint      bool    `yaml:"autoCheckpoint"`
	CheckpointThreshold float64 `yaml:"checkpointThreshold"`
	CacheSnapshot       bool    `yaml:"cacheSnapshot"`

	PageSize uint32 `yaml:"pageSize"`
	WALSize  int64  `yaml:"walSize"`
	SyncMode string `yaml:"syncMode"` // "full", "batch", or "off"

	// EncryptionKeyPath, when set, names a file holding a raw 32-byte
	// chacha20poly1305 key; pkg/raydb reads it at Open and passes the bytes
	// through to the single-file container's page-level encryption at rest
	// (pkg/container/encryption.go). Multi-file layouts ignore it.
	EncryptionKeyPath string `yaml:"encryptionKeyPath"`
}

// LoadFromEnv loads configuration from environment variables, falling back
// to the defaults spec.md §6 names for every option it doesn't find set.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	engine, err := raydb.Open(cfg.DataDir, cfg)
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.ReadOnly = getEnvBool("RAYDB_READ_ONLY", false)
	cfg.CreateIfMissing = getEnvBool("RAYDB_CREATE_IF_MISSING", true)
	cfg.LockFile = getEnvBool("RAYDB_LOCK_FILE", true)
	cfg.DataDir = getEnv("RAYDB_DATA_DIR", "./data")
	cfg.Backend = getEnv("RAYDB_BACKEND", "native")

	cfg.MVCC = getEnvBool("RAYDB_MVCC", false)
	cfg.MVCCGCIntervalMs = getEnvInt("RAYDB_MVCC_GC_INTERVAL_MS", 5000)
	cfg.MVCCRetentionMs = int64(getEnvInt("RAYDB_MVCC_RETENTION_MS", 60000))
	cfg.MVCCMaxChainDepth = getEnvInt("RAYDB_MVCC_MAX_CHAIN_DEPTH", 10)

	cfg.AutoCheckpoint = getEnvBool("RAYDB_AUTO_CHECKPOINT", true)
	cfg.CheckpointThreshold = getEnvFloat("RAYDB_CHECKPOINT_THRESHOLD", 0.8)
	cfg.CacheSnapshot = getEnvBool("RAYDB_CACHE_SNAPSHOT", true)

	cfg.PageSize = uint32(getEnvInt("RAYDB_PAGE_SIZE", 4096))
	cfg.WALSize = getEnvMemorySize("RAYDB_WAL_SIZE", 64<<20)
	cfg.SyncMode = getEnv("RAYDB_SYNC_MODE", "full")
	cfg.EncryptionKeyPath = getEnv("RAYDB_ENCRYPTION_KEY_PATH", "")

	return cfg
}

// LoadFromFile reads a YAML configuration file, seeded with defaults so a
// file only needs to mention the options it overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		CreateIfMissing:     true,
		LockFile:            true,
		DataDir:             "./data",
		Backend:             "native",
		MVCCGCIntervalMs:    5000,
		MVCCRetentionMs:     60000,
		MVCCMaxChainDepth:   10,
		AutoCheckpoint:      true,
		CheckpointThreshold: 0.8,
		CacheSnapshot:       true,
		PageSize:            4096,
		WALSize:             64 << 20,
		SyncMode:            "full",
	}
}

// Validate reports the first configuration error found, or nil. Call it
// after LoadFromEnv or LoadFromFile, before opening the database.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
func (c *Config) Validate() error {
	if c.PageSize == 0 || c.PageSize%512 != 0 {
		return fmt.Errorf("config: pageSize must be a nonzero multiple of 512, got %d", c.PageSize)
	}
	if c.WALSize <= 0 {
		return fmt.Errorf("config: walSize must be positive, got %d", c.WALSize)
	}
	if c.MVCCMaxChainDepth <= 0 {
		return fmt.Errorf("config: mvccMaxChainDepth must be positive, got %d", c.MVCCMaxChainDepth)
	}
	if c.CheckpointThreshold <= 0 || c.CheckpointThreshold > 1 {
		return fmt.Errorf("config: checkpointThreshold must be in (0, 1], got %v", c.CheckpointThreshold)
	}
	switch c.SyncMode {
	case "full", "batch", "off":
	default:
		return fmt.Errorf("config: syncMode must be full, batch, or off, got %q", c.SyncMode)
	}
	switch c.Backend {
	case "native", "badger":
	default:
		return fmt.Errorf("config: backend must be native or badger, got %q", c.Backend)
	}
	if c.ReadOnly && c.CreateIfMissing {
		return fmt.Errorf("config: readOnly and createIfMissing are mutually exclusive")
	}
	return nil
}

// String returns a safe, log-friendly summary of cfg.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, DataDir: %s, MVCC: %v, AutoCheckpoint: %v, SyncMode: %s, WALSize: %s}",
		c.Backend, c.DataDir, c.MVCC, c.AutoCheckpoint, c.SyncMode, FormatMemorySize(c.WALSize),
	)
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvMemorySize(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n := parseMemorySize(val); n != 0 {
			return n
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable byte quantity ("64MB", "2GiB",
// "1024") via go-humanize, folding in the non-numeric sentinels
// ("", "unlimited") that mean zero/no-limit and a leading "-" for the
// negative values some callers use to mean "disabled". KB/MB/GB/TB are
// binary units, the same as KiB/MiB/GiB/TiB ("1KB" is 1024).
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch strings.ToLower(s) {
	case "0", "unlimited":
		return 0
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	// go-humanize reads "kb"/"mb"/... as powers of 1000; spell them as
	// "kib"/"mib"/... so they parse as powers of 1024.
	if l := strings.ToLower(s); len(l) >= 2 && strings.HasSuffix(l, "b") && !strings.HasSuffix(l, "ib") && strings.ContainsRune("kmgtpe", rune(l[len(l)-2])) {
		s = l[:len(l)-1] + "ib"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	v := int64(n)
	if neg {
		v = -v
	}
	return v
}

// FormatMemorySize renders bytes the way an operator would type it back in,
// for Config.String() and the stats CLI command.
func FormatMemorySize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}
