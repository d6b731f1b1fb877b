package timer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coral-mesh/pulse/pkg/version"
)

// Metrics exposes Timer activity as Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	ticks        prometheus.Counter
	deliveries   *prometheus.CounterVec
	listeners    prometheus.Gauge
	lastBoundary prometheus.Gauge
	buildInfo    *prometheus.GaugeVec
}

// NewMetrics creates the Timer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ticks_total",
			Help: "Total number of 10-second boundaries broadcast to listeners",
		}),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_deliveries_total",
				Help: "Boundary deliveries per listener, by result (delivered or missed)",
			},
			[]string{"result"},
		),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_listeners",
			Help: "Number of listeners currently attached, including the placeholder",
		}),
		lastBoundary: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_last_boundary_timestamp_seconds",
			Help: "Unix timestamp of the last boundary broadcast",
		}),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_build_info",
				Help: "Build version information",
			},
			[]string{"version", "git_commit", "build_date", "go_version"},
		),
	}

	m.buildInfo.With(version.Info()).Set(1)

	for _, c := range []prometheus.Collector{m.ticks, m.deliveries, m.listeners, m.lastBoundary, m.buildInfo} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeTick(boundary uint64, delivered, missed int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.deliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.deliveries.WithLabelValues("missed").Add(float64(missed))
	m.listeners.Set(float64(delivered + missed))
	m.lastBoundary.Set(float64(boundary))
}

func (m *Metrics) setListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}
