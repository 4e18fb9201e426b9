// Package telemetry holds the Prometheus collectors exported on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicematch_events_appended_total",
		Help: "Match events persisted, by event type",
	}, []string{"type"})

	EventsUndone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicematch_events_undone_total",
		Help: "Tail events removed by undo",
	})

	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicematch_append_conflicts_total",
		Help: "Sequence number races retried by the engine",
	})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicematch_status_transitions_total",
		Help: "Match lifecycle transitions, by target status",
	}, []string{"status"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicematch_notifications_published_total",
		Help: "Broadcast notifications published, by kind",
	}, []string{"kind"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicematch_notifications_dropped_total",
		Help: "Notifications dropped for slow subscribers (each forces a resync)",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dicematch_subscribers",
		Help: "Open broadcast subscriptions",
	})

	PresentUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dicematch_present_users",
		Help: "Users with a live presence lease across all matches",
	})

	PresenceEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicematch_presence_evictions_total",
		Help: "Presence leases expired by the sweep",
	})
)
