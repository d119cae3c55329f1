package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IdentificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantpal_identifications_total",
			Help: "Total identification requests by outcome",
		},
		[]string{"status"},
	)

	IdentificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plantpal_identification_duration_seconds",
			Help:    "End-to-end identification duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20},
		},
	)

	CandidateScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plantpal_top_candidate_score",
			Help:    "Top candidate confidence score (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantpal_chat_total",
			Help: "Total assistant questions by outcome",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plantpal_answer_cache_hits_total",
			Help: "Total answer cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plantpal_answer_cache_misses_total",
			Help: "Total answer cache misses",
		},
	)

	CacheCostSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plantpal_answer_cache_cost_saved_units",
			Help: "Estimated cost units saved by answer cache hits",
		},
	)

	QuotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantpal_quota_denials_total",
			Help: "Total assistant requests denied by quota, per scope",
		},
		[]string{"scope"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantpal_llm_tokens_used",
			Help: "Total assistant tokens used",
		},
		[]string{"model", "type"},
	)
)

func Init() {
	prometheus.MustRegister(IdentificationTotal)
	prometheus.MustRegister(IdentificationDuration)
	prometheus.MustRegister(CandidateScore)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheCostSaved)
	prometheus.MustRegister(QuotaDenials)
	prometheus.MustRegister(LLMTokensUsed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
