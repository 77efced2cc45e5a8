package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays ARTIO_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ARTIO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ARTIO_BUFFER_DIR"); v != "" {
		cfg.BufferDir = v
	}
	if v := os.Getenv("ARTIO_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	if v := os.Getenv("ARTIO_META_DIR"); v != "" {
		cfg.MetaDir = v
	}
	if v := os.Getenv("ARTIO_INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
	if v := os.Getenv("ARTIO_TERM_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.TermLength = int32(n)
		}
	}
	if v := os.Getenv("ARTIO_LOGGER_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoggerCacheCapacity = n
		}
	}
	if v := os.Getenv("ARTIO_FRAGMENT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FragmentLimit = n
		}
	}
	if v := os.Getenv("ARTIO_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckpointInterval = n
		}
	}
	if v := os.Getenv("ARTIO_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("ARTIO_FOLLOWERS"); v != "" {
		parts := strings.Split(v, ",")
		cfg.Replication.Followers = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if n, err := strconv.ParseInt(p, 10, 32); err == nil {
				cfg.Replication.Followers = append(cfg.Replication.Followers, int32(n))
			}
		}
	}
	if v := os.Getenv("ARTIO_ACK_STRATEGY"); v != "" {
		cfg.Replication.Strategy = v
	}
	if v := os.Getenv("ARTIO_ACK_QUORUM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replication.Quorum = n
		}
	}
	if v := os.Getenv("ARTIO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ARTIO_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
