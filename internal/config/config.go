package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	pebblestore "github.com/ssh352/artio/internal/storage/pebble"
)

// Config is the top-level engine configuration loaded from file/env.
type Config struct {
	// DataDir roots all durable state. BufferDir, ArchiveDir, MetaDir and
	// IndexDir default to subdirectories of it when left empty.
	DataDir    string `toml:"data_dir"`
	BufferDir  string `toml:"buffer_dir"`
	ArchiveDir string `toml:"archive_dir"`
	MetaDir    string `toml:"meta_dir"`
	IndexDir   string `toml:"index_dir"`

	TermLength          int32  `toml:"term_length"`
	LoggerCacheCapacity int    `toml:"logger_cache_capacity"`
	FragmentLimit       int    `toml:"fragment_limit"`
	CheckpointInterval  int    `toml:"checkpoint_interval"`
	Fsync               string `toml:"fsync"`

	Replication Replication `toml:"replication"`
	Log         Log         `toml:"log"`
}

// Replication configures the acknowledgement coordinator. An empty
// follower set disables it.
type Replication struct {
	Followers []int32 `toml:"followers"`
	Strategy  string  `toml:"strategy"`
	Quorum    int     `toml:"quorum"`
}

// Log configures the process logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Strategy names accepted by Replication.Strategy.
const (
	StrategyEntireSet = "entire-set"
	StrategyQuorum    = "quorum"
)

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:             DefaultDataDir(),
		TermLength:          1 << 20,
		LoggerCacheCapacity: 64,
		FragmentLimit:       20,
		CheckpointInterval:  64,
		Fsync:               "interval",
		Replication: Replication{
			Strategy: StrategyEntireSet,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a TOML file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.TermLength < 1024 || c.TermLength&(c.TermLength-1) != 0 {
		return fmt.Errorf("config: term_length %d is not a power of two >= 1024", c.TermLength)
	}
	if c.LoggerCacheCapacity <= 0 {
		return fmt.Errorf("config: logger_cache_capacity must be positive")
	}
	if _, err := c.FsyncMode(); err != nil {
		return err
	}
	switch c.Replication.Strategy {
	case StrategyEntireSet, StrategyQuorum:
	default:
		return fmt.Errorf("config: unknown replication strategy %q", c.Replication.Strategy)
	}
	if c.Replication.Quorum > len(c.Replication.Followers) {
		return fmt.Errorf("config: quorum %d exceeds follower count %d",
			c.Replication.Quorum, len(c.Replication.Followers))
	}
	return nil
}

// FsyncMode maps the configured fsync string onto the storage mode.
func (c Config) FsyncMode() (pebblestore.FsyncMode, error) {
	switch c.Fsync {
	case "always":
		return pebblestore.FsyncModeAlways, nil
	case "", "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return 0, fmt.Errorf("config: unknown fsync mode %q", c.Fsync)
	}
}

// BufferPath returns the transport buffer directory.
func (c Config) BufferPath() string { return c.sub(c.BufferDir, "buffers") }

// ArchivePath returns the archive log directory.
func (c Config) ArchivePath() string { return c.sub(c.ArchiveDir, "logs") }

// MetaPath returns the archive metadata store directory.
func (c Config) MetaPath() string { return c.sub(c.MetaDir, "meta") }

// IndexPath returns the replay index directory.
func (c Config) IndexPath() string { return c.sub(c.IndexDir, "index") }

func (c Config) sub(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(c.DataDir, name)
}

// EnsureDirs creates every configured directory.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.BufferPath(), c.ArchivePath(), c.MetaPath(), c.IndexPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultDataDir is the data directory used when none is configured:
// $XDG_DATA_HOME/artio, then /var/lib/artio when that tree exists, then
// ~/.artio. Without a resolvable home it falls back to ./data.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "artio")
	}
	if info, err := os.Stat("/var/lib"); err == nil && info.IsDir() {
		return "/var/lib/artio"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	return filepath.Join(home, ".artio")
}
