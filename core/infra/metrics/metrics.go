package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements the pipeline metrics without emitting anything.
type Noop struct{}

func (Noop) IncChunksReceived()                      {}
func (Noop) IncUploadsCompleted()                    {}
func (Noop) IncUploadsExpired()                      {}
func (Noop) IncJobsStarted(string)                   {}
func (Noop) IncJobsCompleted(string)                 {}
func (Noop) ObserveProcessingDuration(float64)       {}
func (Noop) ObserveRequest(_, _, _ string, _ float64) {}

// Prom implements pipeline and gateway metrics backed by Prometheus.
type Prom struct {
	chunksReceived     prometheus.Counter
	uploadsCompleted   prometheus.Counter
	uploadsExpired     prometheus.Counter
	jobsStarted        *prometheus.CounterVec
	jobsCompleted      *prometheus.CounterVec
	processingDuration prometheus.Histogram
	requestDuration    *prometheus.HistogramVec
	once               sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Chunks accepted into the chunk store",
		}),
		uploadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_completed_total",
			Help:      "Uploads fully reassembled and handed off",
		}),
		uploadsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_expired_total",
			Help:      "Pending uploads evicted by the watchdog sweep",
		}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Jobs started by strategy",
		}, []string{"strategy"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs reaching a terminal state by status",
		}, []string{"status"}),
		processingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Background processing run duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Gateway request duration by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.chunksReceived,
			p.uploadsCompleted,
			p.uploadsExpired,
			p.jobsStarted,
			p.jobsCompleted,
			p.processingDuration,
			p.requestDuration,
		)
	})
}

func (p *Prom) IncChunksReceived()   { p.chunksReceived.Inc() }
func (p *Prom) IncUploadsCompleted() { p.uploadsCompleted.Inc() }
func (p *Prom) IncUploadsExpired()   { p.uploadsExpired.Inc() }

func (p *Prom) IncJobsStarted(strategy string) {
	p.jobsStarted.WithLabelValues(strategy).Inc()
}

func (p *Prom) IncJobsCompleted(status string) {
	p.jobsCompleted.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveProcessingDuration(seconds float64) {
	p.processingDuration.Observe(seconds)
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requestDuration.WithLabelValues(method, route, status).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
