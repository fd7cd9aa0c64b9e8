package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector reads pgxpool statistics on every scrape.
type poolCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
}

func poolDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc("flagwatch_cache_pool_"+name, help, nil, nil)
}

// RegisterPoolMetrics exposes the connection pool of the postgres flag cache.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(&poolCollector{
		pool:     pool,
		acquired: poolDesc("acquired", "Connections currently acquired by the flag cache."),
		idle:     poolDesc("idle", "Idle connections in the flag cache pool."),
		total:    poolDesc("total", "Open connections in the flag cache pool."),
		max:      poolDesc("max", "Maximum connections allowed in the flag cache pool."),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	gauge := func(d *prometheus.Desc, v int32) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	gauge(c.acquired, stat.AcquiredConns())
	gauge(c.idle, stat.IdleConns())
	gauge(c.total, stat.TotalConns())
	gauge(c.max, stat.MaxConns())
}
