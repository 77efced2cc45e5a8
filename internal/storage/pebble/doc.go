// Package pebblestore wraps Pebble with the fsync policy and small helpers
// the archive metadata store and the replay indexes need. It deliberately
// exposes only the operations those components use: point get/set/delete,
// batched writes, and raw iterators over key prefixes.
package pebblestore
