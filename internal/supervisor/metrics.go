package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBucketsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tst",
		Subsystem: "supervisor",
		Name:      "buckets_open",
		Help:      "Review-status subscriptions held by the aggregator.",
	})
	metricBucketErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tst",
		Subsystem: "supervisor",
		Name:      "bucket_errors_total",
		Help:      "Subscription errors by review-status spelling.",
	}, []string{"bucket"})
	metricBatchRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tst",
		Subsystem: "supervisor",
		Name:      "batch_rows_total",
		Help:      "Rows processed by batch actions by action and result.",
	}, []string{"action", "result"})
)
