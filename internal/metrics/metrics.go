package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PagesFetched     prometheus.Counter
	MessagesImported prometheus.Counter
	RelayHops        prometheus.Counter
	StalledAborts    prometheus.Counter
	LLMCalls         prometheus.Counter
	LLMParseSalvages prometheus.Counter
	LLMParseFailures prometheus.Counter
	RuleMatches      prometheus.Counter
	DeadLetters      prometheus.Counter
	WebhookEvents    prometheus.Counter
	LockContention   prometheus.Counter
	UnitDuration     prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_pages_fetched_total",
			Help: "Total number of mailbox pages fetched from the upstream provider",
		}),
		MessagesImported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_messages_imported_total",
			Help: "Total number of messages upserted into the staging table",
		}),
		RelayHops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_relay_hops_total",
			Help: "Total number of pipeline continuations re-enqueued",
		}),
		StalledAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_stalled_aborts_total",
			Help: "Total number of import jobs aborted for lack of progress",
		}),
		LLMCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_llm_calls_total",
			Help: "Total number of LLM gateway calls",
		}),
		LLMParseSalvages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_llm_parse_salvages_total",
			Help: "Total number of LLM responses recovered by fallback parsing",
		}),
		LLMParseFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_llm_parse_failures_total",
			Help: "Total number of LLM responses that could not be parsed at all",
		}),
		RuleMatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_sender_rule_matches_total",
			Help: "Total number of emails classified by a sender rule without the LLM",
		}),
		DeadLetters: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_dead_letters_total",
			Help: "Total number of queue messages routed to the dead-letter table",
		}),
		WebhookEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_webhook_events_total",
			Help: "Total number of webhook notifications received",
		}),
		LockContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_lock_contention_total",
			Help: "Total number of worker invocations skipped because the lease was held",
		}),
		UnitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailflow_work_unit_duration_seconds",
			Help:    "Time spent processing one bounded pipeline work unit",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
