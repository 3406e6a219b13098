package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "coinsim"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Inc() { p.gauge.Inc() }
func (p promGauge) Dec() { p.gauge.Dec() }

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	fetchSuccess := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "price_fetch_success_total",
		Help:      "Total number of successful upstream price fetches.",
	})
	fetchRateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "price_fetch_rate_limited_total",
		Help:      "Total number of upstream fetches rejected with HTTP 429.",
	})
	fetchFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "price_fetch_failed_total",
		Help:      "Total number of upstream fetch failures other than rate limits.",
	})
	cacheServes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "price_cache_serves_total",
		Help:      "Total number of publish cycles served from cache without an upstream call.",
	})
	simTicks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "simulator_ticks_total",
		Help:      "Total number of simulator ticks run.",
	})
	simErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "simulator_position_errors_total",
		Help:      "Total number of positions skipped due to errors during a tick.",
	})
	settlements := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "settlements_total",
		Help:      "Total number of position settlements credited to accounts.",
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "ws_subscribers",
		Help:      "Number of currently connected websocket subscribers.",
	})

	registry.MustRegister(fetchSuccess, fetchRateLimited, fetchFailed, cacheServes, simTicks, simErrors, settlements, subscribers)

	m := &Metrics{
		FetchSuccess:     promCounter{fetchSuccess},
		FetchRateLimited: promCounter{fetchRateLimited},
		FetchFailed:      promCounter{fetchFailed},
		CacheServes:      promCounter{cacheServes},
		SimTicks:         promCounter{simTicks},
		SimErrors:        promCounter{simErrors},
		Settlements:      promCounter{settlements},
		Subscribers:      promGauge{subscribers},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
