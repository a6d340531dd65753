package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats provides the metrics collector access to pipeline state.
type LiveStats interface {
	InFlight() int
	WatcherOffset() int64
	RecentResponses() int
	SpeechQueueDepth() int
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats LiveStats

	// Descriptors for scrape-time gauges.
	inFlight        *prometheus.Desc
	watcherOffset   *prometheus.Desc
	recentResponses *prometheus.Desc
	speechQueue     *prometheus.Desc
	sseSubscribers  *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if no pipeline is running.
func NewCollector(pool *pgxpool.Pool, stats LiveStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "orchestrations_in_flight"),
			"Orchestrations currently running.",
			nil, nil,
		),
		watcherOffset: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watcher", "offset_bytes"),
			"Processed offset into the transcript log.",
			nil, nil,
		),
		recentResponses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "feedback", "recent_responses"),
			"Spoken responses currently remembered for echo suppression.",
			nil, nil,
		),
		speechQueue: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "speech", "queue_depth"),
			"Responses waiting to be spoken.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
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
	ch <- c.inFlight
	ch <- c.watcherOffset
	ch <- c.recentResponses
	ch <- c.speechQueue
	ch <- c.sseSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	// Pipeline stats
	if c.stats != nil {
		gauge(c.inFlight, float64(c.stats.InFlight()))
		gauge(c.watcherOffset, float64(c.stats.WatcherOffset()))
		gauge(c.recentResponses, float64(c.stats.RecentResponses()))
		gauge(c.speechQueue, float64(c.stats.SpeechQueueDepth()))
		gauge(c.sseSubscribers, float64(c.stats.SSESubscriberCount()))
	} else {
		gauge(c.inFlight, 0)
		gauge(c.watcherOffset, 0)
		gauge(c.recentResponses, 0)
		gauge(c.speechQueue, 0)
		gauge(c.sseSubscribers, 0)
	}

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		gauge(c.dbTotalConns, float64(stat.TotalConns()))
		gauge(c.dbAcquiredConns, float64(stat.AcquiredConns()))
		gauge(c.dbIdleConns, float64(stat.IdleConns()))
	} else {
		gauge(c.dbTotalConns, 0)
		gauge(c.dbAcquiredConns, 0)
		gauge(c.dbIdleConns, 0)
	}
}
