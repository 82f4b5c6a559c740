package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventbatcher"

var (
	RecordsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_submitted_total",
		Help:      "Records accepted into the correlation queue.",
	})
	SubmitRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submit_rejected_total",
		Help:      "Submissions rejected by the correlation queue, by reason.",
	}, []string{"reason"})
	BatchesFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_flushed_total",
		Help:      "Batches handed to the sink, by the threshold that triggered the flush.",
	}, []string{"trigger"})
	BatchRecords = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_records",
		Help:      "Number of records per flushed batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	BatchBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_bytes",
		Help:      "Cumulative payload bytes per flushed batch.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
	})
	FlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_seconds",
		Help:      "Time spent writing a batch to the sink, retries included.",
		Buckets:   prometheus.DefBuckets,
	})
	SinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_failures_total",
		Help:      "Flushes where the whole batch failed.",
	})
	RecordResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "record_results_total",
		Help:      "Per-record results published to the correlation queue.",
	}, []string{"outcome"})
	ResultsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_reaped_total",
		Help:      "Unconsumed results evicted by the reaper.",
	})
	HTTPRequestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_seconds",
		Help:      "HTTP request latency by route template and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(
		RecordsSubmitted,
		SubmitRejected,
		BatchesFlushed,
		BatchRecords,
		BatchBytes,
		FlushSeconds,
		SinkFailures,
		RecordResults,
		ResultsReaped,
		HTTPRequestSeconds,
	)
}

// Outcome labels results for RecordResults.
func Outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
