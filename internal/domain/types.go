package domain

import "time"

// AudioFormat describes a PCM stream. The engine only produces mono 16-bit audio.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// MonoPCM16 returns the canonical engine format at the given rate.
func MonoPCM16(sampleRate int) AudioFormat {
	return AudioFormat{SampleRate: sampleRate, Channels: 1, BitDepth: 16}
}

func (f AudioFormat) BytesPerSample() int {
	return f.BitDepth / 8
}

func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample()
}

// Duration returns the playback length of n bytes in this format.
func (f AudioFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// BytesFor returns the byte length of d, rounded down to whole samples.
func (f AudioFormat) BytesFor(d time.Duration) int {
	frame := f.Channels * f.BytesPerSample()
	if frame <= 0 || d <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

// AudioChunk is one bounded slice of captured PCM, numbered in capture order.
type AudioChunk struct {
	Seq  uint64
	Data []byte
}

// PlaybackItem is a finalized utterance ready for the speaker. Treat it as immutable.
type PlaybackItem struct {
	ID        string
	Format    AudioFormat
	Container []byte
	PCMBytes  int
}

// Duration is the audible length of the item.
func (p PlaybackItem) Duration() time.Duration {
	return p.Format.Duration(p.PCMBytes)
}

// SessionState models the conversation lifecycle. Listening and AISpeaking are
// the two sub-states of an active session.
type SessionState string

const (
	SessionStateIdle          SessionState = "idle"
	SessionStateInitializing  SessionState = "initializing"
	SessionStateAuthenticated SessionState = "authenticated"
	SessionStateListening     SessionState = "listening"
	SessionStateAISpeaking    SessionState = "ai_speaking"
	SessionStateStopped       SessionState = "stopped"
)

// Active reports whether the session has completed negotiation.
func (s SessionState) Active() bool {
	return s == SessionStateListening || s == SessionStateAISpeaking
}

// Busy reports whether a new initialization must be rejected.
func (s SessionState) Busy() bool {
	return s == SessionStateInitializing || s == SessionStateAuthenticated || s.Active()
}

// ConversationSession is the seed for one conversation with the AI service.
type ConversationSession struct {
	ID             string
	AuthToken      string
	Topics         []string
	Hashtags       []string
	TranscriptSeed string
}

// MatchParticipant is a participant as announced by the matching service.
type MatchParticipant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsAI     bool   `json:"is_ai"`
}

// MatchRecord describes a newly formed live-call assignment.
type MatchRecord struct {
	Kind         string
	MatchID      string
	SessionID    string
	RoomID       string
	CallToken    string
	Participants []MatchParticipant
	Topics       []string
	Hashtags     []string
}

// Clone returns a deep copy so the record can cross ownership boundaries by value.
func (m MatchRecord) Clone() MatchRecord {
	out := m
	out.Participants = append([]MatchParticipant(nil), m.Participants...)
	out.Topics = append([]string(nil), m.Topics...)
	out.Hashtags = append([]string(nil), m.Hashtags...)
	return out
}

// Participant is one roster entry in the live call.
type Participant struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	IsCurrentUser bool   `json:"is_current_user"`
	IsAIHost      bool   `json:"is_ai_host"`
}

// CallSession tracks the live call connection.
type CallSession struct {
	RoomHandle      string
	IsConnected     bool
	IsDisconnecting bool
}
