package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrijs2005/estisync/internal/client/assets"
)

// Cycle outcomes used as the "outcome" label.
const (
	OutcomeOK         = "ok"
	OutcomeIncomplete = "incomplete"
	OutcomeError      = "error"
)

// Metrics are the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Cycles          *prometheus.CounterVec
	Pushed          prometheus.Counter
	Conflicts       prometheus.Counter
	Rejected        prometheus.Counter
	Dropped         prometheus.Counter
	MergedRows      *prometheus.CounterVec
	PhotoDownloads  prometheus.Counter
	PhotoFailures   prometheus.Counter
	QueueDepth      prometheus.Gauge
	CycleDuration   prometheus.Histogram
	BootstrapsTotal *prometheus.CounterVec
	PhotosCollected prometheus.Counter
	PhotosRemoved   prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "estisync_sync_cycles_total",
			Help: "Cumulative number of sync cycles, by outcome.",
		}, []string{"outcome"}),
		Pushed: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_push_accepted_total",
			Help: "Cumulative number of queue entries accepted by the remote service.",
		}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_push_conflicts_total",
			Help: "Cumulative number of pushes rejected for a stale version.",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_push_rejected_total",
			Help: "Cumulative number of pushes rejected for reasons other than a version conflict.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_push_dropped_total",
			Help: "Cumulative number of queue entries dropped after exhausting their attempts.",
		}),
		MergedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "estisync_pull_merged_rows_total",
			Help: "Cumulative number of pulled rows written to the local store, by table.",
		}, []string{"table"}),
		PhotoDownloads: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_photo_downloads_total",
			Help: "Cumulative number of photo binaries downloaded into the cache.",
		}),
		PhotoFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_photo_failures_total",
			Help: "Cumulative number of failed photo cache operations.",
		}),
		PhotosRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_photo_removed_total",
			Help: "Cumulative number of cached binaries removed for deleted photos.",
		}),
		PhotosCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "estisync_photo_collected_total",
			Help: "Cumulative number of orphaned cached files garbage collected.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "estisync_queue_depth",
			Help: "Number of entries waiting in the change queue after the last cycle.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "estisync_sync_cycle_duration_seconds",
			Help: "Duration of sync cycles.",
		}),
		BootstrapsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "estisync_bootstraps_total",
			Help: "Cumulative number of bootstraps, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeCycle(rep *Report, outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	m.Pushed.Add(float64(rep.Pushed))
	m.Conflicts.Add(float64(rep.Conflicts))
	m.Rejected.Add(float64(rep.Rejected))
	m.Dropped.Add(float64(rep.Dropped))
	for table, n := range rep.Merged {
		m.MergedRows.WithLabelValues(table).Add(float64(n))
	}
	m.observePhotos(rep.Photos)
	m.CycleDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
}

func (m *Metrics) observePhotos(st assets.Stats) {
	if m == nil {
		return
	}
	m.PhotoDownloads.Add(float64(st.Downloaded))
	m.PhotoFailures.Add(float64(st.Failed))
	m.PhotosRemoved.Add(float64(st.Removed))
	m.PhotosCollected.Add(float64(st.Collected))
}

func (m *Metrics) observeBootstrap(outcome string) {
	if m == nil {
		return
	}
	m.BootstrapsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
