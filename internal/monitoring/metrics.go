package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ScrapesTotal   *prometheus.CounterVec
	ScrapeDuration *prometheus.HistogramVec
	CacheEvents    *prometheus.CounterVec
	RobotsDenied   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		ScrapesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bbcompare_scrapes_total",
			Help: "The total number of provider scrapes by terminal outcome",
		}, []string{"provider", "status"}),
		ScrapeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bbcompare_scrape_duration_seconds",
			Help:    "Wall-clock duration of provider scrapes",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bbcompare_cache_events_total",
			Help: "Result cache activity",
		}, []string{"event"}), // e.g., 'hit', 'miss', 'stale', 'write', 'write_failed'
		RobotsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bbcompare_robots_denied_total",
			Help: "Scrapes refused by the robots.txt gate",
		}, []string{"host"}),
	}
}

func (m *Metrics) IncScrape(provider, status string) {
	m.ScrapesTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObserveScrape(provider string, d time.Duration) {
	m.ScrapeDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) IncCacheEvent(event string) {
	m.CacheEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncRobotsDenied(host string) {
	m.RobotsDenied.WithLabelValues(host).Inc()
}
