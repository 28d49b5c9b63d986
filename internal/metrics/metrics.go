package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exported on /metrics. Registered against the default
// registry so promhttp.Handler picks them up without extra wiring.
var (
	DevicesEnrolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployflow_devices_enrolled_total",
		Help: "Agent registrations accepted, including re-enrollments.",
	})

	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployflow_heartbeats_total",
		Help: "Agent heartbeats processed.",
	})

	ActionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployflow_actions_created_total",
		Help: "Actions created by profile application or direct dispatch.",
	})

	ActionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployflow_actions_completed_total",
		Help: "Action results reported by agents, labeled by terminal status.",
	}, []string{"status"})

	ProfileApplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployflow_profile_applies_total",
		Help: "Successful profile application requests.",
	})
)
