package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Counters
	LinesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lines_received_total",
			Help: "Raw lines received per feed channel",
		},
		[]string{"channel"},
	)

	MessagesParsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_parsed_total",
			Help: "Messages decoded per type",
		},
		[]string{"type"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parse_errors_total",
			Help: "Parse failures per error code",
		},
		[]string{"code"},
	)

	OverflowJoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overflow_joins_total",
			Help: "IRC overflow tails joined to their head line",
		},
		[]string{},
	)

	EnrichmentFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_fetches_total",
			Help: "Enrichment fetches per property and result",
		},
		[]string{"property", "result"},
	)

	CustomFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custom_fetches_total",
			Help: "Per-wiki custom message fetches per result",
		},
		[]string{"result"},
	)

	ModuleExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "module_executions_total",
			Help: "Module execute calls per module and result",
		},
		[]string{"module", "result"},
	)

	RedisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Failed enrichment cache operations",
		},
		[]string{},
	)

	IRCReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irc_reconnects_total",
			Help: "IRC reconnection attempts",
		},
		[]string{},
	)

	// Histograms
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "MediaWiki API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// InitMetrics registers all collectors with the default registry. Call once
// from main; the collectors themselves work unregistered in tests.
func InitMetrics() {
	prometheus.MustRegister(
		LinesReceivedTotal,
		MessagesParsedTotal,
		ParseErrorsTotal,
		OverflowJoinsTotal,
		EnrichmentFetchesTotal,
		CustomFetchesTotal,
		ModuleExecutionsTotal,
		RedisErrorsTotal,
		IRCReconnectsTotal,
		APIRequestDuration,
	)
}
