package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WakeWordDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_wake_word_detections_total",
		Help: "Total wake word detections",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_barge_in_events_total",
		Help: "Total user interruptions during assistant speech",
	})

	SessionEnds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_session_ends_total",
		Help: "Conversation terminations by reason",
	}, []string{"reason"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_music_cache_hits_total",
		Help: "Plays served from the song cache",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_music_cache_misses_total",
		Help: "Plays that required a download",
	})

	MusicCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_music_commands_total",
		Help: "Music commands handled, by action tag",
	}, []string{"action"})
)
