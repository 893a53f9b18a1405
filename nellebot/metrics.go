package nellebot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strconv"
	"time"
)

const metricsNamespace = "nellebot"

const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomePanic    = "panic"
	outcomeCanceled = "canceled"
)

// Metrics holds the prometheus collectors for queues, workers, gateway
// events and jobs, on a registry of its own.
type Metrics struct {
	registry         *prometheus.Registry
	dispatched       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	gatewayEvents    *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	discordLogDrops  prometheus.Counter
	apiRequests      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "queue_items_dispatched_total",
				Help:      "Queue items dispatched by workers, by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "queue_dispatch_duration_seconds",
				Help:      "Time spent dispatching a single queue item.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		gatewayEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_events_total",
				Help:      "Discord gateway events received, by event type.",
			},
			[]string{"event"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_runs_total",
				Help:      "Job runs, by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
		discordLogDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discord_log_dropped_total",
				Help:      "Discord log messages dropped because the log queue was full.",
			},
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_requests_total",
				Help:      "Admin API requests, by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.dispatched,
		m.dispatchDuration,
		m.gatewayEvents,
		m.jobRuns,
		m.discordLogDrops,
		m.apiRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// registerQueue adds a gauge reporting the queue's current depth
func (m *Metrics) registerQueue(q statQueue) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   metricsNamespace,
				Name:        "queue_length",
				Help:        "Number of items waiting in the queue.",
				ConstLabels: prometheus.Labels{"queue": q.Name()},
			},
			func() float64 { return float64(q.Len()) },
		),
	)
}

func (m *Metrics) observeDispatch(queue string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(queue, outcome).Inc()
	m.dispatchDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func (m *Metrics) gatewayEvent(event string) {
	if m == nil {
		return
	}
	m.gatewayEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) jobRun(job string, outcome string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) discordLogDropped() {
	if m == nil {
		return
	}
	m.discordLogDrops.Inc()
}

func (m *Metrics) apiRequest(method string, route string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
