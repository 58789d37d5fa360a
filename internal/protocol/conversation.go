package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Conversation channel message types.
const (
	TypeAuth         = "auth"
	TypeStartSession = "start_session"
	TypeAudioChunk   = "audio_chunk"
	TypeUtteranceEnd = "utterance_end"
	TypeAIControl    = "ai_control"

	TypeAuthenticated     = "authenticated"
	TypeSessionStarted    = "session_started"
	TypeSpeechStarted     = "speech_started"
	TypeSpeechStopped     = "speech_stopped"
	TypeAIResponseStarted = "ai_response_started"
	TypeTextDelta         = "response.text.delta"
	TypeAudioDelta        = "response.audio.delta"
	TypeResponseDone      = "response.done"
	TypeError             = "error"
)

// OutputAudioFormat is the only synthesized format the client accepts.
const OutputAudioFormat = "pcm16"

// AI control actions.
const (
	ActionInterrupt = "interrupt"
)

type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type UserContext struct {
	Topics              []string `json:"topics"`
	Hashtags            []string `json:"hashtags"`
	Transcription       string   `json:"transcription"`
	ConversationContext string   `json:"conversation_context"`
}

type StartSessionMessage struct {
	Type              string      `json:"type"`
	UserContext       UserContext `json:"user_context"`
	OutputAudioFormat string      `json:"output_audio_format"`
}

type AudioChunkMessage struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data"`
	Language  string `json:"language"`
	Timestamp int64  `json:"timestamp"`
}

type UtteranceEndMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type AIControlMessage struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

func NewAuth(token string) AuthMessage {
	return AuthMessage{Type: TypeAuth, Token: token}
}

func NewStartSession(ctx UserContext) StartSessionMessage {
	if ctx.Topics == nil {
		ctx.Topics = []string{}
	}
	if ctx.Hashtags == nil {
		ctx.Hashtags = []string{}
	}
	return StartSessionMessage{Type: TypeStartSession, UserContext: ctx, OutputAudioFormat: OutputAudioFormat}
}

func NewAudioChunk(audioData, language string, at time.Time) AudioChunkMessage {
	return AudioChunkMessage{Type: TypeAudioChunk, AudioData: audioData, Language: language, Timestamp: at.UnixMilli()}
}

func NewUtteranceEnd(at time.Time) UtteranceEndMessage {
	return UtteranceEndMessage{Type: TypeUtteranceEnd, Timestamp: at.UnixMilli()}
}

func NewAIControl(action string, at time.Time) AIControlMessage {
	return AIControlMessage{Type: TypeAIControl, Action: action, Timestamp: at.UnixMilli()}
}

// ConversationEvent is the inbound envelope. Only the fields relevant to Type
// are populated.
type ConversationEvent struct {
	Type    string `json:"type"`
	Delta   string `json:"delta,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorText returns the server-supplied error description.
func (e ConversationEvent) ErrorText() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// DecodeConversationEvent parses one inbound conversation message. A message
// without a type tag is a protocol error.
func DecodeConversationEvent(data []byte) (ConversationEvent, error) {
	var ev ConversationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ConversationEvent{}, fmt.Errorf("decode conversation event: %w", err)
	}
	if ev.Type == "" {
		return ConversationEvent{}, errMissingType
	}
	return ev, nil
}
