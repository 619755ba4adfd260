package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var connStates = []string{"DISCONNECTED", "CONNECTING", "SUBSCRIBED", "CONNECTION_LOST", "STOPPED"}

// Prometheus implements Collector backed by Prometheus.
type Prometheus struct {
	messages      prometheus.Counter
	cancellations prometheus.Counter
	duplicates    prometheus.Counter
	claims        *prometheus.CounterVec
	claimLatency  *prometheus.HistogramVec
	reconnects    prometheus.Counter
	connState     *prometheus.GaugeVec
	inFlight      prometheus.Gauge
	dedupSize     prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers the rescue collectors with reg (the default
// registerer when nil). namespace defaults to "rescue".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rescue"
	}

	p := &Prometheus{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_total",
			Help:      "Messages delivered by the broker.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Unique order cancellation events.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Cancellation events dropped by the dedup cache.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Finished claim attempts by final state.",
		}, []string{"state"}),
		claimLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "Time from cancellation to claim outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Broker connection losses and failed connection attempts.",
		}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current broker connection state.",
		}, []string{"state"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_claims",
			Help:      "Claim attempts currently racing.",
		}),
		dedupSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_entries",
			Help:      "Live entries in the dedup cache.",
		}),
	}

	reg.MustRegister(p.messages, p.cancellations, p.duplicates, p.claims,
		p.claimLatency, p.reconnects, p.connState, p.inFlight, p.dedupSize)
	return p
}

func (p *Prometheus) RecordMessage()      { p.messages.Inc() }
func (p *Prometheus) RecordCancellation() { p.cancellations.Inc() }
func (p *Prometheus) RecordDuplicate()    { p.duplicates.Inc() }
func (p *Prometheus) RecordReconnect()    { p.reconnects.Inc() }

func (p *Prometheus) RecordClaim(state string, elapsed time.Duration) {
	p.claims.WithLabelValues(state).Inc()
	p.claimLatency.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (p *Prometheus) SetConnState(state string) {
	for _, s := range connStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.connState.WithLabelValues(s).Set(v)
	}
}

func (p *Prometheus) SetInFlightClaims(n int) { p.inFlight.Set(float64(n)) }
func (p *Prometheus) SetDedupSize(n int)      { p.dedupSize.Set(float64(n)) }
