// Package config loads engine configuration from built-in defaults, an
// optional TOML file, and ARTIO_* environment variable overlays, applied
// in that order.
package config
