package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "tarot"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	draws               *prometheus.CounterVec
	readings            *prometheus.CounterVec
	llmDuration         *prometheus.HistogramVec
	premiumEvaluations  *prometheus.CounterVec
	pdfs                *prometheus.CounterVec
	storeSaves          *prometheus.CounterVec
	compositeFailures   prometheus.Counter
	pdfCleanupDeletions prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Card draws by entry point.",
		}, []string{"source"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Generated readings by tier and outcome.",
		}, []string{"tier", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of text-generation calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider", "outcome"}),
		premiumEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "premium_evaluations_total",
			Help:      "Premium evaluations by verdict.",
		}, []string{"verdict"}),
		pdfs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdfs_total",
			Help:      "PDF requests by outcome.",
		}, []string{"outcome"}),
		storeSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_saves_total",
			Help:      "Document saves by outcome.",
		}, []string{"outcome"}),
		compositeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "composite_failures_total",
			Help:      "Composite images that could not be produced.",
		}),
		pdfCleanupDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_cleanup_deletions_total",
			Help:      "PDF files removed by the retention sweep.",
		}),
	}

	reg.MustRegister(
		m.draws,
		m.readings,
		m.llmDuration,
		m.premiumEvaluations,
		m.pdfs,
		m.storeSaves,
		m.compositeFailures,
		m.pdfCleanupDeletions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *Metrics) Draw(source string) {
	if m == nil {
		return
	}
	m.draws.WithLabelValues(source).Inc()
}

func (m *Metrics) Reading(tier string, err error) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(tier, outcome(err)).Inc()
}

func (m *Metrics) ObserveLLM(provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.llmDuration.WithLabelValues(provider, outcome(err)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) PremiumEvaluation(needsPremium bool) {
	if m == nil {
		return
	}
	verdict := "free"
	if needsPremium {
		verdict = "premium"
	}
	m.premiumEvaluations.WithLabelValues(verdict).Inc()
}

func (m *Metrics) PDF(result string) {
	if m == nil {
		return
	}
	m.pdfs.WithLabelValues(result).Inc()
}

func (m *Metrics) StoreSave(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.storeSaves.WithLabelValues("ok").Inc()
		return
	}
	m.storeSaves.WithLabelValues("error").Inc()
}

func (m *Metrics) CompositeFailed() {
	if m == nil {
		return
	}
	m.compositeFailures.Inc()
}

func (m *Metrics) PDFsDeleted(n int) {
	if m == nil {
		return
	}
	m.pdfCleanupDeletions.Add(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type promLogger struct{}

// Println implements promhttp.Logger.
func (promLogger) Println(v ...interface{}) {
	log.Error().Interface("detail", v).Msg("metrics handler error")
}
