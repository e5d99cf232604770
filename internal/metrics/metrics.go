package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "betfair"

// Metrics holds every collector. It implements the observer interfaces of
// the ratelimit, retry, stream, journal and publisher packages.
type Metrics struct {
	rateLimitWait *prometheus.HistogramVec
	retryAttempts *prometheus.CounterVec

	streamState      *prometheus.GaugeVec
	streamFrames     *prometheus.CounterVec
	streamMalformed  prometheus.Counter
	streamViolations prometheus.Counter
	streamReconnects prometheus.Counter
	streamDropped    prometheus.Counter

	journalRows    prometheus.Counter
	journalBatches *prometheus.HistogramVec
	journalErrors  prometheus.Counter

	publishedSnapshots prometheus.Counter
	publishErrors      prometheus.Counter
	publishDuration    prometheus.Histogram
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for a rate limit token",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"category"}),

		retryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_attempts_total",
			Help:      "REST attempts by category and outcome",
		}, []string{"category", "outcome"}),

		streamState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "1 for the current streaming connection state",
		}, []string{"state"}),

		streamFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Inbound stream frames by op",
		}, []string{"op"}),

		streamMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_malformed_frames_total",
			Help:      "Stream frames that could not be decoded",
		}),

		streamViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_protocol_violations_total",
			Help:      "Book updates rejected by the order book engine",
		}),

		streamReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Streaming reconnect attempts",
		}),

		streamDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_dropped_total",
			Help:      "Stream events discarded because the event queue was full",
		}),

		journalRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_rows_total",
			Help:      "Order updates written to the journal",
		}),

		journalBatches: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_batch_size",
			Help:      "Rows per journal flush",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		}, []string{"result"}),

		journalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Failed journal flushes",
		}),

		publishedSnapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_snapshots_total",
			Help:      "Market snapshots published",
		}),

		publishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed snapshot publishes",
		}),

		publishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_cycle_seconds",
			Help:      "Duration of one publish cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRateLimitWait records a token wait.
func (m *Metrics) ObserveRateLimitWait(category string, wait time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.WithLabelValues(category).Observe(wait.Seconds())
}

// ObserveAttempt records a REST attempt outcome.
func (m *Metrics) ObserveAttempt(category, outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(category, outcome).Inc()
}

// ObserveState marks state as the current connection state.
func (m *Metrics) ObserveState(state string) {
	if m == nil {
		return
	}
	m.streamState.Reset()
	m.streamState.WithLabelValues(state).Set(1)
}

func (m *Metrics) ObserveFrame(op string) {
	if m == nil {
		return
	}
	m.streamFrames.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveMalformed() {
	if m == nil {
		return
	}
	m.streamMalformed.Inc()
}

func (m *Metrics) ObserveViolation() {
	if m == nil {
		return
	}
	m.streamViolations.Inc()
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}

func (m *Metrics) ObserveDroppedEvent() {
	if m == nil {
		return
	}
	m.streamDropped.Inc()
}

// ObserveJournalFlush records one journal flush of rows updates.
func (m *Metrics) ObserveJournalFlush(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.journalErrors.Inc()
		m.journalBatches.WithLabelValues("error").Observe(float64(rows))
		return
	}
	m.journalRows.Add(float64(rows))
	m.journalBatches.WithLabelValues("ok").Observe(float64(rows))
}

// ObservePublish records one publish cycle.
func (m *Metrics) ObservePublish(published, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.publishedSnapshots.Add(float64(published))
	m.publishErrors.Add(float64(failed))
	m.publishDuration.Observe(took.Seconds())
}
