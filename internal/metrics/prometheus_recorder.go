package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "mlt"

// Buckets sized for image builds and pushes, which run from seconds to tens of minutes.
var longBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	pushDuration  prom.Histogram
	pushOutcome   *prom.CounterVec
	pollDuration  prom.Histogram
	deployOutcome *prom.CounterVec
	watchRebuilds *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of successful image builds",
			Buckets:   longBuckets,
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Image builds by outcome",
		}, []string{"outcome"}),
		pushDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "push_duration_seconds",
			Help:      "Wall-clock duration of successful image pushes",
			Buckets:   longBuckets,
		}),
		pushOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "push_outcomes_total",
			Help:      "Image pushes by outcome",
		}, []string{"outcome"}),
		pollDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_poll_duration_seconds",
			Help:      "Time spent waiting for a deployment to settle",
			Buckets:   prom.DefBuckets,
		}),
		deployOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_outcomes_total",
			Help:      "Deployments by final outcome",
		}, []string{"outcome"}),
		watchRebuilds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watch_rebuilds_total",
			Help:      "Rebuilds started by build --watch",
		}, []string{"trigger"}),
	}
	reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.pushDuration, pr.pushOutcome,
		pr.pollDuration, pr.deployOutcome, pr.watchRebuilds)
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObservePushDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.pushDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPushOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.pushOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObservePollDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.pollDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDeployOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.deployOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncWatchRebuild(trigger Trigger) {
	if p == nil {
		return
	}
	p.watchRebuilds.WithLabelValues(string(trigger)).Inc()
}

// WriteTextfile writes everything gathered by g to path in the text
// exposition format, replacing the file atomically.
func WriteTextfile(g prom.Gatherer, path string) error {
	if err := prom.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
