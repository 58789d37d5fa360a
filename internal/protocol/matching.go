package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keshucs12345/voicematch/internal/domain"
)

// Matching channel message types.
const (
	TypeWelcome           = "welcome"
	TypeMatchFound        = "match_found"
	TypeMatchFoundTimeout = "match_found_timeout"
	TypeAIMatchFound      = "ai_match_found"
	TypeQueueUpdate       = "queue_update"
	TypePing              = "ping"
	TypePong              = "pong"
)

var errMissingType = errors.New("message has no type")

// ErrMatchWithoutToken marks a match notification that cannot be joined.
var ErrMatchWithoutToken = errors.New("match without livekit_token")

// IsMatchType reports whether t is one of the match notification variants.
func IsMatchType(t string) bool {
	switch t {
	case TypeMatchFound, TypeMatchFoundTimeout, TypeAIMatchFound:
		return true
	}
	return false
}

// MatchingEvent is the inbound envelope of the matching channel.
type MatchingEvent struct {
	Type string `json:"type"`

	ConnectionID string `json:"connection_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`

	MatchID      string                    `json:"match_id,omitempty"`
	RoomID       string                    `json:"room_id,omitempty"`
	SessionID    string                    `json:"session_id,omitempty"`
	LiveKitToken string                    `json:"livekit_token,omitempty"`
	Participants []domain.MatchParticipant `json:"participants,omitempty"`
	Topics       []string                  `json:"topics,omitempty"`
	Hashtags     []string                  `json:"hashtags,omitempty"`

	Position          int     `json:"position,omitempty"`
	EstimatedWaitTime float64 `json:"estimated_wait_time,omitempty"`

	Message string `json:"message,omitempty"`
}

// Match converts a match notification into a record owned by the caller.
func (e MatchingEvent) Match() domain.MatchRecord {
	return domain.MatchRecord{
		Kind:         e.Type,
		MatchID:      e.MatchID,
		SessionID:    e.SessionID,
		RoomID:       e.RoomID,
		CallToken:    e.LiveKitToken,
		Participants: e.Participants,
		Topics:       e.Topics,
		Hashtags:     e.Hashtags,
	}.Clone()
}

type PongMessage struct {
	Type string `json:"type"`
}

func NewPong() PongMessage {
	return PongMessage{Type: TypePong}
}

// DecodeMatchingEvent parses one inbound matching message.
func DecodeMatchingEvent(data []byte) (MatchingEvent, error) {
	var ev MatchingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return MatchingEvent{}, fmt.Errorf("decode matching event: %w", err)
	}
	if ev.Type == "" {
		return MatchingEvent{}, errMissingType
	}
	if IsMatchType(ev.Type) && ev.LiveKitToken == "" {
		return MatchingEvent{}, fmt.Errorf("%s: %w", ev.Type, ErrMatchWithoutToken)
	}
	return ev, nil
}
