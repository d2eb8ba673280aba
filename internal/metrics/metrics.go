// Package metrics exposes the scheduler core's counters and gauges
// through Prometheus, the presentation layer spec §1 calls out as "a
// snapshot presentation layer... excluded" from the core itself but
// which still needs a collector surface to attach to.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the scheduler core registers. Held
// as a struct (rather than package-level globals) so a test or a
// simulation harness can construct an isolated registry per run.
type Registry struct {
	Registerer prometheus.Registerer

	BalanceMigrations   prometheus.Counter
	LocalitySwaps       prometheus.Counter
	RebalancePassesSkip prometheus.Counter
	AdmissionDenied     *prometheus.CounterVec
	VcpuRunState        *prometheus.GaugeVec
	LoadAverage1m       *prometheus.GaugeVec
	RebalanceDuration   prometheus.Histogram
}

// NewRegistry constructs and registers all collectors against reg. Pass
// prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer for the process-wide one.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		Registerer: reg,
		BalanceMigrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coresched",
			Subsystem: "numa",
			Name:      "balance_migrations_total",
			Help:      "VM home-node migrations performed by the load-balance rebalance step.",
		}),
		LocalitySwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coresched",
			Subsystem: "numa",
			Name:      "locality_swaps_total",
			Help:      "Home-node swaps performed by the locality-swap rebalance step.",
		}),
		RebalancePassesSkip: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coresched",
			Subsystem: "numa",
			Name:      "rebalance_passes_skipped_total",
			Help:      "Rebalance periods skipped due to snapshot allocation failure.",
		}),
		AdmissionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coresched",
			Subsystem: "grouptree",
			Name:      "admission_denied_total",
			Help:      "Admission-control rejections, by resource kind (cpu, memory).",
		}, []string{"resource"}),
		VcpuRunState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coresched",
			Subsystem: "cpusched",
			Name:      "vcpu_run_state",
			Help:      "Number of vCPUs currently in each run state.",
		}, []string{"state"}),
		LoadAverage1m: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coresched",
			Subsystem: "loadhistory",
			Name:      "load_average_1m",
			Help:      "1-minute EWMA load average, by entity kind (vcpu, group).",
		}, []string{"entity"}),
		RebalanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coresched",
			Subsystem: "numa",
			Name:      "rebalance_duration_seconds",
			Help:      "Wall-clock duration of a single NUMA rebalance pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.BalanceMigrations,
		m.LocalitySwaps,
		m.RebalancePassesSkip,
		m.AdmissionDenied,
		m.VcpuRunState,
		m.LoadAverage1m,
		m.RebalanceDuration,
	)
	return m
}
