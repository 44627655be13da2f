// Package metrics exposes lead engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus instruments. A nil *Collector is
// valid and records nothing.
type Collector struct {
	fetchCalls     *prometheus.CounterVec
	leasedTotal    *prometheus.CounterVec
	raceLosses     prometheus.Counter
	releasedTotal  prometheus.Counter
	recycledTotal  prometheus.Counter
	fetchDuration  *prometheus.HistogramVec
	maintenanceRun *prometheus.CounterVec
	snapshot       *prometheus.GaugeVec
}

// NewCollector registers the instruments on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		fetchCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_fetch_calls_total",
				Help: "Fetch calls by track and outcome (leased, blocked_outstanding, blocked_daily, empty, error)",
			},
			[]string{"track", "outcome"},
		),
		leasedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_leased_total",
				Help: "Leads leased to agents",
			},
			[]string{"track"},
		),
		raceLosses: f.NewCounter(prometheus.CounterOpts{
			Name: "leads_lease_race_losses_total",
			Help: "Candidates dropped because another transaction leased them first",
		}),
		releasedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "leads_released_total",
			Help: "Leases released explicitly by their holders",
		}),
		recycledTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "leads_recycled_total",
			Help: "Leads moved onto the recycled track by a response change",
		}),
		fetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leads_fetch_duration_seconds",
				Help:    "Fetch transaction latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"track"},
		),
		maintenanceRun: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_maintenance_runs_total",
				Help: "Maintenance job runs by job and result",
			},
			[]string{"job", "result"},
		),
		snapshot: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leads_pool_size",
				Help: "Lead pool sizes from the last daily_stats run",
			},
			[]string{"bucket"},
		),
	}
}

func (c *Collector) FetchCall(track, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.fetchCalls.WithLabelValues(track, outcome).Inc()
	c.fetchDuration.WithLabelValues(track).Observe(seconds)
}

func (c *Collector) Leased(track string, n, lost int) {
	if c == nil {
		return
	}
	c.leasedTotal.WithLabelValues(track).Add(float64(n))
	c.raceLosses.Add(float64(lost))
}

func (c *Collector) Released(n int) {
	if c == nil {
		return
	}
	c.releasedTotal.Add(float64(n))
}

func (c *Collector) Recycled() {
	if c == nil {
		return
	}
	c.recycledTotal.Inc()
}

func (c *Collector) MaintenanceRun(job string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.maintenanceRun.WithLabelValues(job, result).Inc()
}

// PoolSize sets one bucket of the lead pool gauge.
func (c *Collector) PoolSize(bucket string, n int) {
	if c == nil {
		return
	}
	c.snapshot.WithLabelValues(bucket).Set(float64(n))
}
