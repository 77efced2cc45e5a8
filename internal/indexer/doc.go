// Package indexer keeps derived, queryable indexes current with the live
// log.
//
// An Indexer drives a fixed sequence of Index implementations: at
// construction it replays archived data each index has not yet seen
// (catch-up), in steady state it polls the live subscription with a small
// fragment bound, and at close it drains whatever the shutdown watermark
// says is not yet durably accounted for (quiesce) before tearing down.
// CompletionPosition is the shared watermark the shutdown coordinator
// publishes and the quiesce phase polls.
package indexer
