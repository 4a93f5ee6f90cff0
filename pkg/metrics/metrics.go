package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conviction_events_ingested_total",
		Help: "Events accepted by the tracker, by type",
	}, []string{"type"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conviction_events_dropped_total",
		Help: "Events shed under backpressure, by class",
	}, []string{"class"})

	signalsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conviction_signals_emitted_total",
		Help: "Signals that crossed the emit threshold",
	})

	signalsEmitFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conviction_signals_emit_failed_total",
		Help: "Signals whose delivery exhausted retries",
	})

	tokensByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conviction_tokens",
		Help: "Tracked tokens by lifecycle state",
	}, []string{"state"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conviction_queue_depth",
		Help: "Pending events across all per-token queues",
	})

	scoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conviction_score_duration_seconds",
		Help:    "Wall time of one full scoring pass",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conviction_fetch_duration_seconds",
		Help:    "Outbound provider call latency",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	fetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conviction_fetch_errors_total",
		Help: "Provider call failures after retry",
	}, []string{"provider"})

	mentionsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conviction_mentions_recorded_total",
		Help: "Chat mentions surviving dedup",
	})

	correlationEdges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conviction_correlation_edges_total",
		Help: "Group correlation edges created",
	})
)

func init() {
	prometheus.MustRegister(eventsIngested)
	prometheus.MustRegister(eventsDropped)
	prometheus.MustRegister(signalsEmitted)
	prometheus.MustRegister(signalsEmitFailed)
	prometheus.MustRegister(tokensByState)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(scoreDuration)
	prometheus.MustRegister(fetchDuration)
	prometheus.MustRegister(fetchErrors)
	prometheus.MustRegister(mentionsRecorded)
	prometheus.MustRegister(correlationEdges)
}

func EventIngested(typ string) { eventsIngested.WithLabelValues(typ).Inc() }

func EventDropped(class string) { eventsDropped.WithLabelValues(class).Inc() }

func SignalEmitted() { signalsEmitted.Inc() }

func SignalEmitFailed() { signalsEmitFailed.Inc() }

func SetTokens(state string, n int) { tokensByState.WithLabelValues(state).Set(float64(n)) }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

func ObserveScore(d time.Duration) { scoreDuration.Observe(d.Seconds()) }

func ObserveFetch(provider string, d time.Duration) {
	fetchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func FetchError(provider string) { fetchErrors.WithLabelValues(provider).Inc() }

func MentionRecorded() { mentionsRecorded.Inc() }

func CorrelationEdge() { correlationEdges.Inc() }
