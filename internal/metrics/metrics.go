package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the sync engine.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesRouted    prometheus.Counter
	MessagesUnmatched prometheus.Counter
	RouteErrors       prometheus.Counter
	EmailsSaved       prometheus.Counter
	SendSuccesses     prometheus.Counter
	SendFailures      prometheus.Counter
	FoldersCreated    prometheus.Counter
	FoldersArchived   prometheus.Counter
	AdminNotices      prometheus.Counter
	RunDuration       *prometheus.HistogramVec
}

// New registers the metrics on a fresh registry so tests can build as many
// instances as they need.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		MessagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_messages_routed_total",
			Help: "Messages moved from a source folder into a thread folder",
		}),
		MessagesUnmatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_messages_unmatched_total",
			Help: "Messages left in place because no single thread matched",
		}),
		RouteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_route_errors_total",
			Help: "Per-message failures while routing",
		}),
		EmailsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_emails_saved_total",
			Help: "Emails persisted to a thread",
		}),
		SendSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_send_successes_total",
			Help: "Queued sendings delivered to the SMTP server",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_send_failures_total",
			Help: "Queued sendings that failed and were put back in the queue",
		}),
		FoldersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_folders_created_total",
			Help: "Thread folders created on the IMAP server",
		}),
		FoldersArchived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_folders_archived_total",
			Help: "Thread folders moved into the archive namespace",
		}),
		AdminNotices: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_admin_notifications_total",
			Help: "Errors reported to the administrator",
		}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailsync_run_duration_seconds",
			Help:    "Duration of scheduled runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
