package metrics

import (

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marquee"

// Metrics exposes Prometheus collectors for the asset pipeline and channels.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	downloads       *prometheus.CounterVec
	downloadBytes   prometheus.Counter
	downloadsActive prometheus.Gauge
	passes          *prometheus.CounterVec
	janitorRemoved  prometheus.Counter
	janitorFailures prometheus.Counter
	reconnects      *prometheus.CounterVec
	sessionsOpen    prometheus.Gauge
	messagesDropped *prometheus.CounterVec
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh prometheus.NewRegistry(). Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "completed_total",
			Help:      "Finished downloads by result.",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to staging files by successful downloads.",
		}),
		downloadsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "in_flight",
			Help:      "Downloads currently transferring.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playlist",
			Name:      "passes_total",
			Help:      "Resolution passes by result.",
		}, []string{"result"}),
		janitorRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "removed_total",
			Help:      "Cache entries deleted by the janitor.",
		}),
		janitorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "failures_total",
			Help:      "Cache entries the janitor failed to delete.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled per topic.",
		}, []string{"topic"}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "sessions_open",
			Help:      "Channel sessions with a live connection.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "messages_dropped_total",
			Help:      "Inbound payloads dropped because they could not be decoded.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.downloads, m.downloadBytes, m.downloadsActive, m.passes,
		m.janitorRemoved, m.janitorFailures,
		m.reconnects, m.sessionsOpen, m.messagesDropped,
	)
	return m
}

func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.downloadsActive.Inc()
}

func (m *Metrics) DownloadFinished(ok bool, bytes int64) {
	if m == nil {
		return
	}
	m.downloadsActive.Dec()
	if ok {
		m.downloads.WithLabelValues("succeeded").Inc()
		m.downloadBytes.Add(float64(bytes))
		return
	}
	m.downloads.WithLabelValues("failed").Inc()
}

func (m *Metrics) PassFinished(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.passes.WithLabelValues("ok").Inc()
		return
	}
	m.passes.WithLabelValues("failed").Inc()
}

func (m *Metrics) JanitorSwept(removed, failed int) {
	if m == nil {
		return
	}
	m.janitorRemoved.Add(float64(removed))
	m.janitorFailures.Add(float64(failed))
}

func (m *Metrics) ReconnectScheduled(topic string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(topic).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsOpen.Dec()
}

func (m *Metrics) MessageDropped(topic string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(topic).Inc()
}
