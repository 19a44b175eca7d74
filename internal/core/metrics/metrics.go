package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
)

// Recorder collects workflow counters on its own registry so tests can read them in isolation.
type Recorder struct {
	registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	reimbursements *prometheus.CounterVec
	reimbursed     prometheus.Counter
	rateLimited    prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense",
			Name:      "transitions_total",
			Help:      "Expense state transitions by event and outcome.",
		}, []string{"event", "outcome"}),
		reimbursements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense",
			Name:      "reimbursement_batches_total",
			Help:      "Batch reimbursement calls by outcome.",
		}, []string{"outcome"}),
		reimbursed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "expense",
			Name:      "reimbursed_expenses_total",
			Help:      "Expenses moved to Reimbursed.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "http",
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-actor rate limiter.",
		}),
	}

	reg.MustRegister(
		r.transitions,
		r.reimbursements,
		r.reimbursed,
		r.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Transition(event, outcome string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(event, outcome).Inc()
}

func (r *Recorder) ReimbursementBatch(outcome string, count int) {
	if r == nil {
		return
	}
	r.reimbursements.WithLabelValues(outcome).Inc()
	if outcome == OutcomeApplied {
		r.reimbursed.Add(float64(count))
	}
}

func (r *Recorder) RateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// TransitionCounter exposes the vector for assertions.
func (r *Recorder) TransitionCounter() *prometheus.CounterVec {
	return r.transitions
}

func (r *Recorder) ReimbursedCounter() prometheus.Counter {
	return r.reimbursed
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
