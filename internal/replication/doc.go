// Package replication decides when data published into a replicated log
// is committed. A Coordinator consumes follower acknowledgements from a
// control-plane subscription, maintains the per-follower acknowledgement
// table, and recomputes the globally committed term through a pluggable
// AckStrategy. Data fragments are held back on the data-plane subscription
// until their term is at or below the committed term.
package replication
