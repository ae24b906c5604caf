package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arealink_requests_total",
		Help: "Total number of API requests by route",
	}, []string{"route", "code"})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arealink_query_duration_ms",
		Help:    "Spatial query duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 50, 100, 200, 500},
	}, []string{"kind"})
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arealink_cache_hits_total",
		Help: "Total cache hits by cache",
	}, []string{"cache"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arealink_cache_misses_total",
		Help: "Total cache misses by cache",
	}, []string{"cache"})
	LinkRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arealink_link_runs_total",
		Help: "Total number of linkage runs",
	})
	LinksTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arealink_links_total",
		Help: "Links produced by the last run by match type",
	}, []string{"match_type"})
	UnmatchedAreas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arealink_unmatched_areas",
		Help: "Administrative areas without any link in the last run",
	})
	AvgConfidence = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arealink_link_avg_confidence",
		Help: "Average link confidence of the last run",
	})
	ContainmentProcessed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arealink_containment_processed",
		Help: "Entrances processed by the running containment build",
	})
	SkippedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arealink_skipped_records_total",
		Help: "Records skipped for invalid geometry or values by stage",
	}, []string{"stage"})
	RefreshDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arealink_refresh_duration_ms",
		Help:    "Full refresh duration in milliseconds",
		Buckets: []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
	})
	RefreshFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arealink_refresh_fail_total",
		Help: "Total failed refresh runs",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(LinkRunsTotal)
	prometheus.MustRegister(LinksTotal)
	prometheus.MustRegister(UnmatchedAreas)
	prometheus.MustRegister(AvgConfidence)
	prometheus.MustRegister(ContainmentProcessed)
	prometheus.MustRegister(SkippedRecords)
	prometheus.MustRegister(RefreshDurationMs)
	prometheus.MustRegister(RefreshFailTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 <API_BASE>/metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
