package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 失败原因
const (
	ReasonStartFailed = "start_failed"
	ReasonNoTrace     = "no_trace"
	ReasonStepLimit   = "step_limit"
	ReasonTimeout     = "timeout"
	ReasonOutput      = "output"
	ReasonFrontend    = "frontend"
)

// Recorder trace生成的指标，使用独立的registry，避免测试之间互相影响
type Recorder struct {
	registry  *prometheus.Registry
	generated prometheus.Counter
	failures  *prometheus.CounterVec
	steps     prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracer_traces_generated_total",
			Help: "Total number of backend traces generated",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracer_trace_failures_total",
			Help: "Total number of failed trace runs",
		}, []string{"reason"}),
		steps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracer_trace_steps",
			Help:    "Number of recorded steps per trace",
			Buckets: prometheus.ExponentialBuckets(1, 4, 7),
		}),
	}
	r.registry.MustRegister(r.generated, r.failures, r.steps)
	return r
}

// TraceGenerated 记录一次成功生成的trace
func (r *Recorder) TraceGenerated(steps int) {
	r.generated.Inc()
	r.steps.Observe(float64(steps))
}

func (r *Recorder) TraceFailed(reason string) {
	r.failures.WithLabelValues(reason).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler /metrics 接口
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
