package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal    prometheus.Counter
	ordersTotal   *prometheus.CounterVec
	faultsTotal   *prometheus.CounterVec
	triggersTotal *prometheus.CounterVec
	regenTotal    *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	agentEquity   *prometheus.GaugeVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "algoarena_ticks_total",
			Help: "Total number of completed tick cycles",
		}),
		ordersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoarena_orders_total",
				Help: "Total number of executed orders",
			},
			[]string{"side", "symbol"},
		),
		faultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoarena_sandbox_faults_total",
				Help: "Total number of sandbox faults by kind",
			},
			[]string{"kind"},
		),
		triggersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoarena_triggers_total",
				Help: "Total number of supervisor trigger classifications",
			},
			[]string{"kind"},
		),
		regenTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoarena_regenerations_total",
				Help: "Total number of regeneration outcomes",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoarena_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		eventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "algoarena_events_published_total",
				Help: "Total number of events published to the stream",
			},
			[]string{"topic"},
		),
		agentEquity: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "algoarena_agent_equity",
				Help: "Current agent equity",
			},
			[]string{"agent"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "algoarena_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "algoarena_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick() { r.ticksTotal.Inc() }
func (r *Recorder) RecordOrder(side, symbol string) {
	r.ordersTotal.WithLabelValues(side, symbol).Inc()
}
func (r *Recorder) RecordSandboxFault(kind string)    { r.faultsTotal.WithLabelValues(kind).Inc() }
func (r *Recorder) RecordTrigger(kind string)         { r.triggersTotal.WithLabelValues(kind).Inc() }
func (r *Recorder) RecordRegeneration(outcome string) { r.regenTotal.WithLabelValues(outcome).Inc() }
func (r *Recorder) RecordError(kind string)           { r.errorsTotal.WithLabelValues(kind).Inc() }
func (r *Recorder) RecordEventPublished(topic string) { r.eventsTotal.WithLabelValues(topic).Inc() }

func (r *Recorder) RecordAgentEquity(agent string, equity float64) {
	r.agentEquity.WithLabelValues(agent).Set(equity)
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
