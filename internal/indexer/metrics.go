package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	fragmentsIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_indexer_fragments_total",
		Help: "Fragments dispatched to the configured indexes",
	})
	quiesceDispatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_indexer_quiesce_dispatches_total",
		Help: "Fragments re-dispatched during the shutdown quiesce drain",
	})
)

// RegisterMetrics registers the package's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(fragmentsIndexed, quiesceDispatches)
}
