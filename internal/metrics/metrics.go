package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joseph-ayodele/permit-intake/internal/normalize"
)

// Registry holds all Prometheus metrics for the intake service.
// A nil *Registry is valid and records nothing.
type Registry struct {
	// Pipeline Metrics
	MessagesTotal    *prometheus.CounterVec
	MessageDuration  prometheus.Histogram
	CyclesTotal      *prometheus.CounterVec
	LastCycleSuccess prometheus.Gauge

	// Backend Metrics
	LLMCallDuration *prometheus.HistogramVec

	// Data-quality Metrics
	RowsSkippedTotal       prometheus.Counter
	DriftKeysTotal         prometheus.Counter
	UnmappablePermitsTotal prometheus.Counter
	ExpandedRowsTotal      prometheus.Counter
}

// NewRegistry creates the metrics and registers them with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_intake_messages_total",
				Help: "Messages handled by outcome and error code",
			},
			[]string{"outcome", "code"},
		),
		MessageDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permit_intake_message_duration_seconds",
				Help:    "End-to-end processing time of one message",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
		),
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_intake_poll_cycles_total",
				Help: "Polling cycles by result",
			},
			[]string{"result"},
		),
		LastCycleSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "permit_intake_last_successful_cycle_timestamp_seconds",
				Help: "Unix time of the last polling cycle that reached the mailbox",
			},
		),
		LLMCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permit_intake_llm_call_duration_seconds",
				Help:    "Text-generation backend latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"result"},
		),
		RowsSkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "permit_intake_rows_skipped_total",
			Help: "Table items skipped because they were not objects",
		}),
		DriftKeysTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "permit_intake_drift_keys_total",
			Help: "Top-level keys whose value did not fit the schema",
		}),
		UnmappablePermitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "permit_intake_unmappable_permits_total",
			Help: "Permit segments that matched no canonical type",
		}),
		ExpandedRowsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "permit_intake_expanded_rows_total",
			Help: "Extra sector rows created by permit splitting",
		}),
	}
}

func (r *Registry) ObserveMessage(outcome, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.MessagesTotal.WithLabelValues(outcome, code).Inc()
	r.MessageDuration.Observe(elapsed.Seconds())
}

func (r *Registry) ObserveCycle(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.CyclesTotal.WithLabelValues("error").Inc()
		return
	}
	r.CyclesTotal.WithLabelValues("ok").Inc()
	r.LastCycleSuccess.SetToCurrentTime()
}

func (r *Registry) ObserveLLM(elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.LLMCallDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (r *Registry) ObserveReport(rep *normalize.Report) {
	if r == nil || rep == nil {
		return
	}
	for _, n := range rep.SkippedRows {
		r.RowsSkippedTotal.Add(float64(n))
	}
	r.DriftKeysTotal.Add(float64(len(rep.DriftKeys)))
	r.UnmappablePermitsTotal.Add(float64(len(rep.Unmappable)))
	r.ExpandedRowsTotal.Add(float64(rep.ExpandedRows))
}
