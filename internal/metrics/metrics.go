package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xyrax/instra/internal/agent"
)

const (
	// OutcomeSuccess labels analyses that produced a prediction.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels analyses rejected for bad or missing input.
	OutcomeInvalid = "invalid"
	// OutcomeUnavailable labels analyses whose model target was not loaded.
	OutcomeUnavailable = "unavailable"
	// OutcomeError labels any other failure.
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "instra",
			Name:      "analyses_total",
			Help:      "Total number of post analyses, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "instra",
			Name:      "agent_replies_total",
			Help:      "Agent replies, partitioned by the source that produced them.",
		},
		[]string{"source"},
	)

	externalSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "instra",
			Name:      "external_agent_seconds",
			Help:      "External chat model latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"outcome"},
	)
)

// Register attaches instra collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		repliesTotal,
		externalSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis counts one analysis. Unknown outcomes count as errors.
func ObserveAnalysis(outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeInvalid, OutcomeUnavailable:
	default:
		outcome = OutcomeError
	}
	analysesTotal.WithLabelValues(outcome).Inc()
}

// Recorder feeds agent routing outcomes into the package collectors.
type Recorder struct{}

var _ agent.Recorder = Recorder{}

// ObserveExternal records one external call.
func (Recorder) ObserveExternal(d time.Duration, err error) {
	label := OutcomeSuccess
	if err != nil {
		label = OutcomeError
	}
	if d < 0 {
		d = 0
	}
	externalSeconds.WithLabelValues(label).Observe(d.Seconds())
}

// ObserveReply counts a reply by source.
func (Recorder) ObserveReply(source agent.Source) {
	repliesTotal.WithLabelValues(string(source)).Inc()
}
