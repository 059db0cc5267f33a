package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scene2video"

// Metrics holds the collectors of one assembler. Each instance has its own
// registry so renders in the same process do not share counters.
type Metrics struct {
	Registry *prometheus.Registry

	RendersTotal      *prometheus.CounterVec
	ScenesRendered    prometheus.Gauge
	ScenesSkipped     prometheus.Counter
	ProbeFallbacks    prometheus.Counter
	TranscodeDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		RendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total render runs by result.",
		}, []string{"result"}),

		ScenesRendered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenes_rendered",
			Help:      "Number of scenes in the last successful render.",
		}),

		ScenesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_skipped_total",
			Help:      "Scenes excluded because an image asset was missing.",
		}),

		ProbeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duration_probe_fallbacks_total",
			Help:      "Audio duration probes that fell back to the default duration.",
		}),

		TranscodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Wall time of the ffmpeg transcode.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}

	m.Registry.MustRegister(
		m.RendersTotal,
		m.ScenesRendered,
		m.ScenesSkipped,
		m.ProbeFallbacks,
		m.TranscodeDuration,
	)
	return m
}

// Result labels for RendersTotal.
const (
	ResultSuccess         = "success"
	ResultNoDirectory     = "directory_not_found"
	ResultNoScenes        = "no_scenes"
	ResultTranscodeFailed = "transcode_failed"
	ResultOtherFailure    = "error"
)

func (m *Metrics) Render(result string) {
	m.RendersTotal.WithLabelValues(result).Inc()
}

// WriteTextfile writes all metrics in the text exposition format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
