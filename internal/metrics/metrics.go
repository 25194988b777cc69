package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sushii/internal/spam"
)

type Metrics struct {
	MessagesChecked prometheus.Counter
	SpamDetected    prometheus.Counter
	TimeoutsApplied prometheus.Counter
	TimeoutFailures prometheus.Counter
	CheckErrors     prometheus.Counter

	DetectionChannels prometheus.Histogram
}

// New registers the antispam counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "sushii_spam_messages_checked_total",
			Help: "Total number of guild messages passed to the spam tracker",
		}),
		SpamDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "sushii_spam_detected_total",
			Help: "Total number of messages flagged as cross-channel spam",
		}),
		TimeoutsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "sushii_spam_timeouts_applied_total",
			Help: "Total number of members timed out for spam",
		}),
		TimeoutFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sushii_spam_timeout_failures_total",
			Help: "Total number of spam timeouts that Discord rejected",
		}),
		CheckErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sushii_spam_check_errors_total",
			Help: "Total number of messages the spam tracker rejected as invalid",
		}),
		DetectionChannels: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sushii_spam_detection_channels",
			Help:    "Distinct channels carrying the repeated content at detection time",
			Buckets: []float64{3, 4, 5, 6, 8, 10, 15, 20},
		}),
	}
}

// ObserveDetection is installed as the tracker's detect hook.
func (m *Metrics) ObserveDetection(d spam.Detection) {
	m.DetectionChannels.Observe(float64(len(d.Channels)))
}

// RegisterTracker exposes the tracker's stats as gauges.
func RegisterTracker(reg prometheus.Registerer, tracker *spam.Tracker) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sushii_spam_active_guilds",
		Help: "Guilds with at least one tracked user",
	}, func() float64 {
		return float64(tracker.Stats().ActiveGuilds)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sushii_spam_tracked_users",
		Help: "Tracked (guild, user) windows",
	}, func() float64 {
		return float64(tracker.Stats().TotalUsers)
	})
}
