package roster

import (
	"context"
	"errors"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
)

// LiveKitConnector joins LiveKit rooms with the call token from a match.
type LiveKitConnector struct {
	url    string
	logger *zap.Logger
}

func NewLiveKitConnector(url string, logger *zap.Logger) *LiveKitConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveKitConnector{url: url, logger: logger.Named("livekit")}
}

func (c *LiveKitConnector) Connect(ctx context.Context, roomHandle, token string, events RoomEvents) (Room, error) {
	if c.url == "" {
		return nil, errors.New("livekit url not configured")
	}
	if token == "" {
		return nil, errors.New("match carries no call token")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			c.logger.Debug("participant connected", zap.String("identity", p.Identity()), zap.String("name", p.Name()))
			events.ParticipantJoined(p.Identity(), p.Name())
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			c.logger.Debug("participant disconnected", zap.String("identity", p.Identity()))
			events.ParticipantLeft(p.Identity())
		},
		OnDisconnected: func() {
			events.Disconnected()
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(c.url, token, callback)
	if err != nil {
		return nil, err
	}
	c.logger.Info("connected to room", zap.String("room", roomHandle), zap.String("identity", room.LocalParticipant.Identity()))

	for _, p := range room.GetRemoteParticipants() {
		events.ParticipantJoined(p.Identity(), p.Name())
	}
	return room, nil
}
