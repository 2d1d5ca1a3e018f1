package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aigateway"

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Metrics holds every collector the gateway exports. A nil *Metrics is
// valid and records nothing, which keeps packages usable without wiring.
type Metrics struct {
	requestTotal        *prometheus.CounterVec
	requestLatency      *prometheus.HistogramVec
	rejections          *prometheus.CounterVec
	rateLimitFailOpen   prometheus.Counter
	circuitTransitions  *prometheus.CounterVec
	circuitState        *prometheus.GaugeVec
	classifierFailures  *prometheus.CounterVec
	persistenceDegraded *prometheus.CounterVec
	webhookDeliveries   *prometheus.CounterVec
	webhookDropped      prometheus.Counter
	providerRequests    *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	spendUSD            *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),

		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rejections_total",
			Help:      "Requests rejected by a pipeline stage, by error kind",
		}, []string{"kind"}),

		rateLimitFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "fail_open_total",
			Help:      "Checks admitted because the counter store was unreachable",
		}),

		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"provider", "from", "to"}),

		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Current circuit state per provider (0 closed, 1 open, 2 half-open)",
		}, []string{"provider"}),

		classifierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "classifier_failures_total",
			Help:      "Classifier errors and timeouts by stage",
		}, []string{"stage"}),

		persistenceDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_degraded_total",
			Help:      "Absorbed logging, ledger and delivery failures",
		}, []string{"component"}),

		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery outcomes",
		}, []string{"result"}),

		webhookDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "queue_dropped_total",
			Help:      "Events rejected because the delivery queue was full",
		}),

		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream provider calls by outcome",
		}, []string{"provider", "outcome"}),

		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Upstream provider latency",
			Buckets:   histogramBuckets,
		}, []string{"provider"}),

		spendUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "spend_usd_total",
			Help:      "Recorded spend in USD",
		}, []string{"provider"}),
	}

	register(reg, &m.requestTotal)
	register(reg, &m.requestLatency)
	register(reg, &m.rejections)
	register(reg, &m.rateLimitFailOpen)
	register(reg, &m.circuitTransitions)
	register(reg, &m.circuitState)
	register(reg, &m.classifierFailures)
	register(reg, &m.persistenceDegraded)
	register(reg, &m.webhookDeliveries)
	register(reg, &m.webhookDropped)
	register(reg, &m.providerRequests)
	register(reg, &m.providerLatency)
	register(reg, &m.spendUSD)

	return m
}

// register swaps in the existing collector when the same metric was
// already registered, e.g. by a second server in the same process.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				*c = existing
			}
		}
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(d.Seconds())
}

func (m *Metrics) Rejection(kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) RateLimitFailOpen() {
	if m == nil {
		return
	}
	m.rateLimitFailOpen.Inc()
}

func (m *Metrics) CircuitTransition(provider, from, to string, state int) {
	if m == nil {
		return
	}
	m.circuitTransitions.WithLabelValues(provider, from, to).Inc()
	m.circuitState.WithLabelValues(provider).Set(float64(state))
}

func (m *Metrics) ClassifierFailure(stage string) {
	if m == nil {
		return
	}
	m.classifierFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) PersistenceDegraded(component string) {
	if m == nil {
		return
	}
	m.persistenceDegraded.WithLabelValues(component).Inc()
}

func (m *Metrics) WebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookDropped() {
	if m == nil {
		return
	}
	m.webhookDropped.Inc()
}

func (m *Metrics) ProviderRequest(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) Spend(provider string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.spendUSD.WithLabelValues(provider).Add(usd)
}
