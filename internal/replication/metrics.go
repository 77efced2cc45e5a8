package replication

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	acksApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_replication_acks_applied_total",
		Help: "Follower acknowledgements that advanced the ack table",
	})
	unknownFollowerAcks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_replication_unknown_follower_acks_total",
		Help: "Acknowledgements rejected as coming from an unconfigured follower",
	})
	badControlMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_replication_bad_control_messages_total",
		Help: "Control-plane records that failed to decode",
	})
	commitBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_replication_commit_broadcasts_total",
		Help: "Commit announcements published to followers",
	})
	releasedFragments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_replication_released_fragments_total",
		Help: "Data fragments released at or below the committed term",
	})
	acknowledgedTermGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artio_replication_acknowledged_term",
		Help: "Highest term certified as committed",
	})
)

// RegisterMetrics registers the package's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(acksApplied, unknownFollowerAcks, badControlMessages,
		commitBroadcasts, releasedFragments, acknowledgedTermGauge)
}
