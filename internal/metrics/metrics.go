package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_scheduled_total",
			Help: "Total emails accepted for deferred delivery",
		},
	)

	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails by failure class",
		},
		[]string{"class"},
	)

	EmailsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_cancelled_total",
			Help: "Total scheduled emails cancelled before dispatch",
		},
	)

	DeliveryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_delivery_retries_total",
			Help: "Total retries of transient delivery failures",
		},
	)

	StaleClaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_stale_claims_total",
			Help: "Total claimed emails failed after the claim timeout",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_batch_duration_seconds",
			Help:    "Time spent processing one dispatch batch",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsScheduled)
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(EmailsCancelled)
	prometheus.MustRegister(DeliveryRetries)
	prometheus.MustRegister(StaleClaims)
	prometheus.MustRegister(DispatchDuration)
}
