package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "contractrisk"

// Metrics records pipeline outcomes. A nil *Metrics records nothing.
type Metrics struct {
	analyses    *prometheus.CounterVec
	duration    prometheus.Histogram
	riskScore   prometheus.Histogram
	llmRequests *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analyses_total",
			Help:      "Analysis requests by outcome (finished or failure kind).",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time from upload received to analysis finished or failed.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		riskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_overall_risk_score",
			Help:      "Overall risk score of finished analyses.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_requests_total",
			Help:      "Individual LLM provider attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeAnalysis(start time.Time, score float64, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.analyses.WithLabelValues(ErrorKind(err)).Inc()
		return
	}
	m.analyses.WithLabelValues("finished").Inc()
	m.riskScore.Observe(score)
}

func (m *Metrics) observeLLMAttempt(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
}
