// Package metrics registers the pipeline's prometheus instruments on the
// default registry. Exposing them over HTTP is left to whatever hosts the
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blivetts_events_ingested_total",
			Help: "Live events received from the room, by event kind",
		},
		[]string{"kind"},
	)

	EventsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blivetts_events_filtered_total",
			Help: "Events dropped by category toggles or the gift threshold",
		},
		[]string{"kind"},
	)

	GiftsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blivetts_gifts_merged_total",
			Help: "Gift events accumulated into an existing merge group",
		},
	)

	GroupsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blivetts_gift_groups_flushed_total",
			Help: "Merge groups flushed into a single notification",
		},
	)

	SynthesisFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blivetts_tts_failures_total",
			Help: "Notifications dropped because speech synthesis failed",
		},
	)

	PlaybackFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blivetts_playback_failures_total",
			Help: "Queued items skipped because decode or device write failed",
		},
	)

	PlaybackDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blivetts_playback_dropped_total",
			Help: "Items rejected because the playback queue hit its soft bound",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blivetts_playback_queue_depth",
			Help: "Items currently waiting in the playback queue",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blivetts_session_reconnects_total",
			Help: "Times the liveness loop replaced a closed room session",
		},
	)
)
