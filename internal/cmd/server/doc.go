// Package serverrun starts the engine and blocks until shutdown is
// requested by signal or context cancellation.
package serverrun
