package session

import (
	"context"
	"time"

	"github.com/keshucs12345/voicematch/internal/conversation"
	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/matching"
	"github.com/keshucs12345/voicematch/internal/protocol"
)

// ConversationClient is the subset of conversation.Client the coordinator drives.
type ConversationClient interface {
	Connect(ctx context.Context, token string, seed protocol.UserContext) error
	SendAudioChunk(chunk domain.AudioChunk) error
	SendUtteranceEnd() error
	SendInterrupt() error
	SetMuted(muted bool)
	SetAISpeaking(speaking bool)
	Disconnect()
}

type MatchingClient interface {
	Connect(ctx context.Context, token string) error
	Close()
}

// Capture is the microphone pipeline.
type Capture interface {
	Start(onChunk func(domain.AudioChunk)) error
	Stop() error
}

// Playback is the inbound audio pipeline.
type Playback interface {
	Begin()
	Append(fragment string)
	Finish()
	StopAll()
	Close()
}

type SeedBuilder interface {
	Build(ctx context.Context, s domain.ConversationSession) protocol.UserContext
}

// Listener observes the coordinator. Calls are made outside the coordinator's
// lock, so a listener may call back into it.
type Listener interface {
	OnStateChanged(state domain.SessionState)
	OnMuteChanged(muted bool)
	OnError(err error)
	OnTranscriptDelta(delta string)
	OnUserSpeech(speaking bool)
	OnMatchFound(match domain.MatchRecord)
	OnQueueUpdate(position int, estimatedWait time.Duration)
}

// NopListener ignores everything. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) OnStateChanged(domain.SessionState) {}
func (NopListener) OnMuteChanged(bool)                 {}
func (NopListener) OnError(error)                      {}
func (NopListener) OnTranscriptDelta(string)           {}
func (NopListener) OnUserSpeech(bool)                  {}
func (NopListener) OnMatchFound(domain.MatchRecord)    {}
func (NopListener) OnQueueUpdate(int, time.Duration)   {}

// Deps wires the coordinator to its collaborators. The channel factories are
// called per initialization with event sinks bound to it; NewPlayback is
// called once.
type Deps struct {
	NewConversation func(events conversation.Events) ConversationClient
	NewMatching     func(events matching.Events) MatchingClient
	NewPlayback     func(onTurnComplete func()) Playback
	Capture         Capture
	Seed            SeedBuilder
	Listener        Listener
}

// View is a read-only handle for observers that must not drive the session.
type View interface {
	State() domain.SessionState
	Muted() bool
	MatchFound() (domain.MatchRecord, bool)
}
