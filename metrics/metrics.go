package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tournament_engine"

// Match outcome labels.
const (
	OutcomePlayed  = "played"
	OutcomeForfeit = "forfeit"
)

type Metrics struct {
	registry *prometheus.Registry

	TournamentsCreated   prometheus.Counter
	TournamentsCompleted prometheus.Counter
	BracketsBuilt        prometheus.Counter
	MatchesResolved      *prometheus.CounterVec
	Forfeits             prometheus.Counter
	ReadyWindowsOpened   prometheus.Counter
	ReadyWindowsExpired  prometheus.Counter
	ReadyWindowsPending  prometheus.Gauge
	NotificationFailures *prometheus.CounterVec
	RejectedResults      *prometheus.CounterVec
}

// New registers every engine collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TournamentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tournaments_created_total",
			Help: "Tournaments created.",
		}),
		TournamentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tournaments_completed_total",
			Help: "Tournaments that reached a winner.",
		}),
		BracketsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "brackets_built_total",
			Help: "Brackets generated on capacity.",
		}),
		MatchesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_resolved_total",
			Help: "Completed matches by outcome.",
		}, []string{"outcome"}),
		Forfeits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "forfeits_total",
			Help: "Players forfeited for missing a ready-up window.",
		}),
		ReadyWindowsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ready_windows_opened_total",
			Help: "Ready-up windows opened with a deadline.",
		}),
		ReadyWindowsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ready_windows_expired_total",
			Help: "Ready-up windows that reached their deadline.",
		}),
		ReadyWindowsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ready_windows_pending",
			Help: "Ready-up timers currently scheduled.",
		}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_failures_total",
			Help: "Push notifications that could not be delivered.",
		}, []string{"event"}),
		RejectedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_results_total",
			Help: "Result reports rejected without mutation.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TournamentsCreated,
		m.TournamentsCompleted,
		m.BracketsBuilt,
		m.MatchesResolved,
		m.Forfeits,
		m.ReadyWindowsOpened,
		m.ReadyWindowsExpired,
		m.ReadyWindowsPending,
		m.NotificationFailures,
		m.RejectedResults,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
