package replicate

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters/gauges the two engine singletons expose
// (spec §9, "observability is out of scope for correctness but the
// daemon still needs operational visibility"). Kept as a small struct
// rather than package-level globals so replication and garbage_collector
// can each register their own series under distinct labels.
type Metrics struct {
	Submitted  prometheus.Counter
	Completed  prometheus.Counter
	Cancelled  prometheus.Counter
	TimedOut   prometheus.Counter
	Outstanding prometheus.Gauge
}

// NewMetrics builds and registers one Metrics set labelled by engine,
// e.g. "replication" or "garbage_collector".
func NewMetrics(reg prometheus.Registerer, engine string) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: engine, Name: "contexts_submitted_total",
			Help: "Contexts submitted to the transfer loop.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: engine, Name: "contexts_completed_total",
			Help: "Contexts that finished fan-out without being cancelled or timed out.",
		}),
		Cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: engine, Name: "contexts_cancelled_total",
			Help: "Contexts that finished cancelled, by cancel_matching or shutdown.",
		}),
		TimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: engine, Name: "contexts_timed_out_total",
			Help: "Contexts that finished timed out, by their own deadline or a waiter's.",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway", Subsystem: engine, Name: "legs_outstanding",
			Help: "In-flight HTTP legs across all active contexts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Submitted, m.Completed, m.Cancelled, m.TimedOut, m.Outstanding)
	}
	return m
}
