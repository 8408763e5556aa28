package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fbahunter"

var (
	// ProductsTotal 按阶段与结果统计处理过的供应商商品。
	ProductsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "products_total",
		Help:      "Supplier products processed, by stage and status.",
	}, []string{"stage", "status"})

	// ErrorsTotal 按错误分类统计。
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Pipeline errors by kind.",
	}, []string{"kind"})

	BrowserTabsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_tabs_in_use",
		Help:      "Browser pages currently handed out.",
	})

	BrowserTabsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_tabs_open",
		Help:      "Browser pages currently open, idle or in use.",
	})

	BrowserReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_reconnects_total",
		Help:      "Browser reconnect attempts by result.",
	}, []string{"result"})

	NavigationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "navigation_duration_seconds",
		Help:      "Page navigation latency by domain.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"domain"})

	MatchResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_results_total",
		Help:      "Marketplace matching outcomes by match type.",
	}, []string{"match_type"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by cache and result.",
	}, []string{"cache", "result"})

	ProgressSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_saves_total",
		Help:      "Progress document saves by result.",
	}, []string{"result"})

	ProfitableProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "profitable_products",
		Help:      "Profitable records in the latest report.",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_open",
		Help:      "1 when the named circuit breaker is open.",
	}, []string{"name"})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   prometheus.DefBuckets,
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_timeout_total",
		Help:      "Rate limit waits abandoned because the context ended.",
	})
)

// ObserveError 记录一次错误。kind 为空时不计数。
func ObserveError(kind string) {
	if kind == "" {
		return
	}
	ErrorsTotal.WithLabelValues(kind).Inc()
}
