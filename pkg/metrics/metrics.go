// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkRunsTotal tracks link workflow runs by operation and result
	LinkRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "linking",
			Name:      "runs_total",
			Help:      "Total number of link workflow runs by operation and result",
		},
		[]string{"operation", "result"},
	)

	// LinkRunDuration tracks link workflow duration in seconds
	LinkRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "linking",
			Name:      "run_duration_seconds",
			Help:      "Duration of link workflow runs in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// ClassificationsTotal tracks candidate classifications
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "classifications_total",
			Help:      "Total number of candidate pairs by classification",
		},
		[]string{"classification"},
	)

	// CandidatesPerRun tracks how many golden records each run evaluates
	CandidatesPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "matching",
			Name:      "candidates_per_run",
			Help:      "Number of golden record candidates evaluated per run",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// GoldenRecordsCreated tracks golden records created by the workflow
	GoldenRecordsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "linking",
			Name:      "golden_records_created_total",
			Help:      "Total number of golden records created",
		},
	)

	// StoreRetries tracks retried link or record store calls
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Total number of retried store operations",
		},
		[]string{"operation"},
	)

	// LockWaitDuration tracks time spent acquiring exclusive sections
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "locks",
			Name:      "wait_duration_seconds",
			Help:      "Time spent acquiring exclusive sections in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"locker"},
	)

	// LockRetries tracks runs that re-acquired locks because the link set widened
	LockRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "locks",
			Name:      "widen_retries_total",
			Help:      "Total number of lock acquisitions repeated after the link set changed",
		},
	)

	// KafkaMessagesConsumed tracks consumed record changes
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of Kafka messages consumed",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesPublished tracks published link events
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of Kafka messages published",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish latency
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// RecordLinkRun records a link workflow run
func RecordLinkRun(operation, result string, durationSeconds float64) {
	LinkRunsTotal.WithLabelValues(operation, result).Inc()
	LinkRunDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordClassification records one candidate classification
func RecordClassification(classification string) {
	ClassificationsTotal.WithLabelValues(classification).Inc()
}

// RecordCandidates records the candidate count of one run
func RecordCandidates(count int) {
	CandidatesPerRun.Observe(float64(count))
}

// RecordStoreRetry records a retried store operation
func RecordStoreRetry(operation string) {
	StoreRetries.WithLabelValues(operation).Inc()
}

// RecordLockWait records time spent acquiring locks
func RecordLockWait(locker string, durationSeconds float64) {
	LockWaitDuration.WithLabelValues(locker).Observe(durationSeconds)
}

// RecordKafkaConsume records a consumed Kafka message
func RecordKafkaConsume(topic, status string) {
	KafkaMessagesConsumed.WithLabelValues(topic, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
