package matching

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/metrics"
	"github.com/keshucs12345/voicematch/internal/protocol"
	"github.com/keshucs12345/voicematch/internal/transport"
)

const channelName = "matching"

// Events receives matching notifications on the channel's read goroutine.
type Events interface {
	OnWelcome(connectionID, userID string)
	// OnMatchFound hands over a record the receiver owns.
	OnMatchFound(match domain.MatchRecord)
	OnQueueUpdate(position int, estimatedWait time.Duration)
	OnServerError(message string)
	// OnDisconnected fires when the server or network ends the channel.
	OnDisconnected(err error)
}

type Config struct {
	URL        string
	QueueDepth int
}

// Client owns the matchmaking channel. Its lifecycle is independent of the
// conversation channel.
type Client struct {
	cfg     Config
	dialer  transport.Dialer
	events  Events
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	channel    *transport.Channel
	connecting bool
	closed     bool
}

func New(cfg Config, dialer transport.Dialer, events Events, logger *zap.Logger, m *metrics.Metrics) *Client {
	if dialer == nil {
		dialer = transport.WebSocketDialer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, dialer: dialer, events: events, logger: logger.Named(channelName), metrics: m}
}

// Connect dials the matching service with token as bearer credentials. It is
// a no-op when already connected or connecting. A closed client stays closed.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.closed || c.connecting || c.channel != nil {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Info("connecting", zap.String("url", c.cfg.URL))
	conn, err := c.dialer.Dial(ctx, c.cfg.URL, header)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil {
		c.metrics.RecordChannelError(channelName, string(domain.KindOf(err)))
		return err
	}
	if c.closed {
		_ = conn.Close()
		return nil
	}
	c.channel = transport.Open(conn,
		transport.ChannelConfig{Name: channelName, QueueDepth: c.cfg.QueueDepth},
		transport.Handlers{OnMessage: c.handleMessage, OnClose: c.handleClose},
		c.logger)
	return nil
}

// Connected reports whether the channel is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.channel != nil
}

// Close shuts the channel without waiting. It is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ch := c.channel
	c.mu.Unlock()

	c.logger.Info("closing")
	if ch != nil {
		ch.Close()
	}
}

func (c *Client) handleMessage(data []byte) {
	ev, err := protocol.DecodeMatchingEvent(data)
	if err != nil {
		c.metrics.RecordChannelError(channelName, string(domain.ErrorKindProtocol))
		c.logger.Warn("ignoring malformed message", zap.Error(domain.ProtocolError("decode", err)))
		if errors.Is(err, protocol.ErrMatchWithoutToken) {
			c.events.OnServerError(err.Error())
		}
		return
	}
	c.metrics.RecordMessageReceived(channelName, ev.Type)

	switch {
	case ev.Type == protocol.TypeWelcome:
		c.logger.Info("welcome", zap.String("connection_id", ev.ConnectionID), zap.String("user_id", ev.UserID))
		c.events.OnWelcome(ev.ConnectionID, ev.UserID)
	case protocol.IsMatchType(ev.Type):
		match := ev.Match()
		c.metrics.RecordMatch(ev.Type)
		c.logger.Info("match found",
			zap.String("kind", ev.Type),
			zap.String("match_id", match.MatchID),
			zap.String("room_id", match.RoomID),
			zap.Int("participants", len(match.Participants)))
		c.events.OnMatchFound(match)
	case ev.Type == protocol.TypeQueueUpdate:
		wait := time.Duration(ev.EstimatedWaitTime * float64(time.Second))
		c.events.OnQueueUpdate(ev.Position, wait)
	case ev.Type == protocol.TypePing:
		c.pong()
	case ev.Type == protocol.TypeError:
		c.logger.Warn("server error", zap.String("message", ev.Message))
		c.events.OnServerError(ev.Message)
	default:
		c.metrics.RecordChannelError(channelName, string(domain.ErrorKindProtocol))
		c.logger.Debug("ignoring unknown message type", zap.String("type", ev.Type))
	}
}

func (c *Client) pong() {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Send(protocol.NewPong()); err != nil {
		c.logger.Debug("pong not sent", zap.Error(err))
		return
	}
	c.metrics.RecordMessageSent(channelName, protocol.TypePong)
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	local := c.closed
	c.channel = nil
	c.mu.Unlock()

	if local {
		c.logger.Info("closed")
		return
	}
	if err == nil {
		err = domain.TransportError(channelName, errors.New("connection closed by server"))
	}
	c.metrics.RecordChannelError(channelName, string(domain.KindOf(err)))
	c.logger.Warn("connection lost", zap.Error(err))
	c.events.OnDisconnected(err)
}
