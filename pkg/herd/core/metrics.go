package core

import "github.com/prometheus/client_golang/prometheus"

var (
	framesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herd_cluster_frames_delivered_total",
		Help: "Total multicast frames delivered by the group service.",
	})
	framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herd_cluster_frames_dropped_total",
		Help: "Total malformed multicast frames dropped at intake.",
	})
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herd_cluster_events_processed_total",
		Help: "Total cluster events retired by the dispatcher.",
	}, []string{"kind"})
	confChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herd_cluster_membership_changes_total",
		Help: "Total membership change batches taken in.",
	})
	abortedDrains = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herd_cluster_fatal_conditions_total",
		Help: "Total fatal conditions hit, partition detected, no members, group service lost or master transfer.",
	})
)

func init() {
	prometheus.MustRegister(framesDelivered, framesDropped, eventsProcessed, confChanges, abortedDrains)
}
