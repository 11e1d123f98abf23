package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tst",
		Subsystem: "gateway",
		Name:      "pushes_total",
		Help:      "Entry pushes to the remote store by result.",
	}, []string{"result"})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tst",
		Subsystem: "gateway",
		Name:      "actions_total",
		Help:      "Supervisor and claim actions by action and result.",
	}, []string{"action", "result"})
)
