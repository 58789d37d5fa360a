package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the voice engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture
	ChunksCaptured prometheus.Counter
	ChunksSent     prometheus.Counter
	ChunksDropped  *prometheus.CounterVec

	// Playback
	DeltasReceived   prometheus.Counter
	DecodeErrors     prometheus.Counter
	UtterancesQueued prometheus.Counter
	UtteranceSeconds prometheus.Histogram
	PlaybackQueue    prometheus.Gauge

	// Channels
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ChannelErrors    *prometheus.CounterVec

	// Session
	StateTransitions *prometheus.CounterVec
	MatchesFound     *prometheus.CounterVec
	Participants     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "voicematch_capture_chunks_total",
			Help: "Total number of PCM chunks produced by the microphone",
		}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "voicematch_capture_chunks_sent_total",
			Help: "Total number of PCM chunks sent to the conversation service",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicematch_capture_chunks_dropped_total",
			Help: "Total number of PCM chunks not sent, by reason",
		}, []string{"reason"}),
		DeltasReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "voicematch_playback_deltas_total",
			Help: "Total number of streamed audio fragments received",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voicematch_playback_decode_errors_total",
			Help: "Total number of audio fragments dropped as malformed",
		}),
		UtterancesQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "voicematch_playback_utterances_total",
			Help: "Total number of finalized utterances queued for playback",
		}),
		UtteranceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicematch_playback_utterance_seconds",
			Help:    "Audible duration of finalized utterances",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		PlaybackQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicematch_playback_queue_size",
			Help: "Number of utterances waiting behind the one playing",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicematch_channel_messages_received_total",
			Help: "Total number of inbound channel messages",
		}, []string{"channel", "type"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicematch_channel_messages_sent_total",
			Help: "Total number of outbound channel messages",
		}, []string{"channel", "type"}),
		ChannelErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicematch_channel_errors_total",
			Help: "Total number of channel errors",
		}, []string{"channel", "kind"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicematch_session_transitions_total",
			Help: "Total number of session state transitions, by target state",
		}, []string{"state"}),
		MatchesFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicematch_matches_found_total",
			Help: "Total number of match notifications, by kind",
		}, []string{"kind"}),
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicematch_call_participants",
			Help: "Current number of live call participants",
		}),
	}
}

// RecordChunkCaptured increments the captured chunk counter
func (m *Metrics) RecordChunkCaptured() {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
}

// RecordChunkSent increments the sent chunk counter
func (m *Metrics) RecordChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

// RecordChunkDropped records a chunk that was gated or could not be queued
func (m *Metrics) RecordChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasReceived.Inc()
}

func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordUtterance records a finalized playback item
func (m *Metrics) RecordUtterance(seconds float64) {
	if m == nil {
		return
	}
	m.UtterancesQueued.Inc()
	m.UtteranceSeconds.Observe(seconds)
}

func (m *Metrics) SetPlaybackQueue(size int) {
	if m == nil {
		return
	}
	m.PlaybackQueue.Set(float64(size))
}

func (m *Metrics) RecordMessageReceived(channel, msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(channel, msgType).Inc()
}

func (m *Metrics) RecordMessageSent(channel, msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(channel, msgType).Inc()
}

func (m *Metrics) RecordChannelError(channel, kind string) {
	if m == nil {
		return
	}
	m.ChannelErrors.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordMatch(kind string) {
	if m == nil {
		return
	}
	m.MatchesFound.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetParticipants(n int) {
	if m == nil {
		return
	}
	m.Participants.Set(float64(n))
}
