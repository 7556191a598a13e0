package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medreminder_notifications_scheduled_total",
		Help: "Notifications handed to the local platform.",
	})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medreminder_notifications_failed_total",
		Help: "Notifications the platform refused to schedule or cancel.",
	}, []string{"op"})

	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medreminder_notifications_delivered_total",
		Help: "Due notifications pushed to chats, by result.",
	}, []string{"result"})

	SyncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medreminder_sync_attempts_total",
		Help: "Remote store attempts made by the retrier, by operation and outcome.",
	}, []string{"operation", "outcome"})

	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medreminder_realtime_events_total",
		Help: "Change events seen by listeners, by table and whether they matched the subject.",
	}, []string{"table", "matched"})

	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medreminder_notification_actions_total",
		Help: "Notification actions handled, by action and result.",
	}, []string{"action", "result"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
