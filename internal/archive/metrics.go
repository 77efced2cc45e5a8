package archive

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	archivedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_archiver_bytes_total",
		Help: "Raw log bytes archived to disk",
	})
	sessionEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_archiver_session_evictions_total",
		Help: "Session archives evicted from the logger cache",
	})
	replayedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artio_archive_replayed_frames_total",
		Help: "Frames replayed from the archive during catch-up",
	})
)

// RegisterMetrics registers the package's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(archivedBytes, sessionEvictions, replayedFrames)
}
