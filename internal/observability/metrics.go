package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by command.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagapp_redis_error_rate_total",
		Help: "Total number of Redis errors by command",
	}, []string{"operation"})

	// StoreOperationLatency records record store latency by driver and operation.
	StoreOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagapp_store_operation_latency_seconds",
		Help:    "Record store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"driver", "operation"})

	// StoreErrors counts failed record store calls. Not-found and rejected
	// conditional writes are not failures.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagapp_store_errors_total",
		Help: "Total number of failed record store operations",
	}, []string{"driver", "operation"})

	// StoreUnprocessed counts keys a batch call reported as not written.
	StoreUnprocessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagapp_store_unprocessed_total",
		Help: "Total number of keys left unprocessed by batch operations",
	}, []string{"driver", "operation"})

	// InteractionsTotal counts toggle requests by action and whether they changed state.
	InteractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagapp_interactions_total",
		Help: "Total number of like/save toggles by action and outcome",
	}, []string{"action", "outcome"})

	// CommentsTotal counts appended comments.
	CommentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagapp_comments_total",
		Help: "Total number of comments appended",
	})

	// NotificationsTotal counts fan-out notifications by type and outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagapp_notifications_total",
		Help: "Total number of fan-out notifications by type and outcome",
	}, []string{"type", "outcome"})

	// TagResolutionFailures counts post creations whose username tags could
	// not be looked up.
	TagResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagapp_tag_resolution_failures_total",
		Help: "Total number of posts created without resolving username tags",
	})

	// PropagationRecords counts posts visited by username propagation.
	PropagationRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagapp_propagation_records_total",
		Help: "Total number of posts visited by username propagation by outcome",
	}, []string{"outcome"})

	// PropagationTasksPending is the number of propagation tasks still persisted.
	PropagationTasksPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tagapp_propagation_tasks_pending",
		Help: "Number of username propagation tasks waiting to complete",
	})
)
