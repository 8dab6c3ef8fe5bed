package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsDelivered counts notifications accepted by every sink.
	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_delivered_total",
		Help: "Total number of notifications delivered, by kind",
	}, []string{"kind"})

	// NotificationsFailed counts failed send attempts, by sink.
	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_send_failures_total",
		Help: "Total number of notification send failures, by sink",
	}, []string{"sink"})
)
