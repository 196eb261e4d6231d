package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总会话编排相关的 Prometheus 指标。nil *Metrics 的方法均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	AnswersTotal    *prometheus.CounterVec
	AnswerDuration  *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec
	Classifications *prometheus.CounterVec
	Transcriptions  *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec

	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram
}

// New registers every collector on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wieesion"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		AnswersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answer requests by provider, model and outcome",
		}, []string{"provider", "model", "outcome"}),
		AnswerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "Answer latency in seconds, including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Admissions denied by the provider rate limiter",
		}, []string{"provider"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Transcribed segments by disposition",
		}, []string{"disposition"}),
		Transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription results by engine and outcome",
		}, []string{"engine", "outcome"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events sent to clients by type",
		}, []string{"type"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open websocket sessions",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Websocket sessions opened",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Websocket session lifetime in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600},
		}),
	}

	registry.MustRegister(
		m.AnswersTotal,
		m.AnswerDuration,
		m.CacheLookups,
		m.RateLimitHits,
		m.Classifications,
		m.Transcriptions,
		m.ErrorsTotal,
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
	)
	return m
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAnswer records one finished answer request.
func (m *Metrics) ObserveAnswer(provider, model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(provider, model, outcome).Inc()
	m.AnswerDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveRateLimited records a denied admission.
func (m *Metrics) ObserveRateLimited(provider string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(provider).Inc()
}

// ObserveClassification 记录分类结果。
func (m *Metrics) ObserveClassification(disposition string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(disposition).Inc()
}

// ObserveTranscription 记录转写结果。
func (m *Metrics) ObserveTranscription(engine string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if engine == "" {
		engine = "unknown"
	}
	m.Transcriptions.WithLabelValues(engine, outcome).Inc()
}

// ObserveError 记录发给客户端的错误事件。
func (m *Metrics) ObserveError(errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errType).Inc()
}

// SessionStarted 记录会话开始。
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionEnded 记录会话结束。
func (m *Metrics) SessionEnded(lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(lifetime.Seconds())
}
