package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeStats provides the collector access to live service state.
type RuntimeStats interface {
	TokenCount() int
	EventsDropped() int64
	ScratchFiles() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats RuntimeStats

	authTokens      *prometheus.Desc
	eventsDropped   *prometheus.Desc
	scratchFiles    *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil when no job ledger is configured (metrics will report 0).
func NewCollector(pool *pgxpool.Pool, stats RuntimeStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		authTokens: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "auth", "tokens"),
			"Number of bearer tokens currently loaded.",
			nil, nil,
		),
		eventsDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "dropped"),
			"Events dropped because the dispatch queue was full.",
			nil, nil,
		),
		scratchFiles: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scratch", "files"),
			"Files currently held in the upload scratch directory.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.authTokens
	ch <- c.eventsDropped
	ch <- c.scratchFiles
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.authTokens, prometheus.GaugeValue, float64(c.stats.TokenCount()))
		ch <- prometheus.MustNewConstMetric(c.eventsDropped, prometheus.CounterValue, float64(c.stats.EventsDropped()))
		ch <- prometheus.MustNewConstMetric(c.scratchFiles, prometheus.GaugeValue, float64(c.stats.ScratchFiles()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.authTokens, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.eventsDropped, prometheus.CounterValue, 0)
		ch <- prometheus.MustNewConstMetric(c.scratchFiles, prometheus.GaugeValue, 0)
	}

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
