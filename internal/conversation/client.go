package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/audio"
	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/metrics"
	"github.com/keshucs12345/voicematch/internal/protocol"
	"github.com/keshucs12345/voicematch/internal/transport"
)

const channelName = "conversation"

// ErrNotConnected is returned by control sends without an open channel.
var ErrNotConnected = errors.New("conversation channel not connected")

// ErrClientClosed is returned by Connect after Disconnect.
var ErrClientClosed = errors.New("conversation client closed")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateSessionNegotiating
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateSessionNegotiating:
		return "session_negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Events receives inbound conversation events. Methods are called from the
// channel's read goroutine, in arrival order.
type Events interface {
	OnAuthenticated()
	OnSessionStarted()
	OnSpeechStarted()
	OnSpeechStopped()
	OnResponseStarted()
	OnTextDelta(delta string)
	OnAudioDelta(delta string)
	OnResponseDone()
	OnServerError(message string)
	// OnDisconnected fires when the server or the network ends the channel.
	// A local Disconnect does not report.
	OnDisconnected(err error)
}

type Config struct {
	URL        string
	Language   string
	QueueDepth int
}

// Client owns one conversation channel at a time.
type Client struct {
	cfg     Config
	dialer  transport.Dialer
	events  Events
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu               sync.Mutex
	state            State
	gen              uint64
	channel          *transport.Channel
	seed             protocol.UserContext
	sessionStartSent bool
	closing          bool
	// closed is set by Disconnect and is terminal.
	closed           bool

	active     atomic.Bool
	muted      atomic.Bool
	aiSpeaking atomic.Bool
}

func New(cfg Config, dialer transport.Dialer, events Events, logger *zap.Logger, m *metrics.Metrics) *Client {
	if dialer == nil {
		dialer = transport.WebSocketDialer{}
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		dialer:  dialer,
		events:  events,
		logger:  logger.Named(channelName),
		metrics: m,
		now:     time.Now,
	}
}

// Connect dials the service and sends the auth message. seed is sent once the
// server acknowledges authentication. Connect is a no-op unless disconnected,
// and fails with ErrClientClosed once Disconnect has been called.
func (c *Client) Connect(ctx context.Context, token string, seed protocol.UserContext) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		c.logger.Debug("connect ignored", zap.Stringer("state", c.state))
		return nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.closing = false
	c.mu.Unlock()

	c.logger.Info("connecting", zap.String("url", c.cfg.URL))
	conn, err := c.dialer.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.metrics.RecordChannelError(channelName, string(domain.KindOf(err)))
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		c.logger.Debug("discarding connection after disconnect")
		return nil
	}
	c.channel = transport.Open(conn,
		transport.ChannelConfig{Name: channelName, QueueDepth: c.cfg.QueueDepth},
		transport.Handlers{
			OnMessage: func(data []byte) { c.handleMessage(gen, data) },
			OnClose:   func(err error) { c.handleClose(gen, err) },
		},
		c.logger)
	c.state = StateAwaitingAuth
	c.seed = seed
	c.sessionStartSent = false
	ch := c.channel
	c.mu.Unlock()

	return c.send(ch, protocol.TypeAuth, protocol.NewAuth(token))
}

// SendAudioChunk queues one captured chunk. It is a silent no-op unless the
// session is active, the user is not muted and the AI is not speaking.
// It never blocks, so it is safe on the capture thread.
func (c *Client) SendAudioChunk(chunk domain.AudioChunk) error {
	switch {
	case !c.active.Load():
		c.metrics.RecordChunkDropped("inactive")
		return nil
	case c.aiSpeaking.Load():
		c.metrics.RecordChunkDropped("ai_speaking")
		return nil
	case c.muted.Load():
		c.metrics.RecordChunkDropped("muted")
		return nil
	}

	ch := c.currentChannel()
	if ch == nil {
		c.metrics.RecordChunkDropped("inactive")
		return nil
	}
	msg := protocol.NewAudioChunk(audio.EncodePCM16Base64(chunk.Data), c.cfg.Language, c.now())
	if err := ch.Send(msg); err != nil {
		c.metrics.RecordChunkDropped("queue")
		return err
	}
	c.metrics.RecordChunkSent()
	return nil
}

// SendControl queues an arbitrary outbound message.
func (c *Client) SendControl(msgType string, msg any) error {
	ch := c.currentChannel()
	if ch == nil {
		return ErrNotConnected
	}
	return c.send(ch, msgType, msg)
}

func (c *Client) SendUtteranceEnd() error {
	return c.SendControl(protocol.TypeUtteranceEnd, protocol.NewUtteranceEnd(c.now()))
}

func (c *Client) SendInterrupt() error {
	return c.SendControl(protocol.TypeAIControl, protocol.NewAIControl(protocol.ActionInterrupt, c.now()))
}

// Disconnect closes the channel without waiting and retires the client, so a
// Connect that has not started yet never dials. Repeated calls are no-ops.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	switch c.state {
	case StateDisconnected, StateClosing:
		c.mu.Unlock()
		return
	case StateConnecting:
		c.state = StateClosing
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.closing = true
	c.active.Store(false)
	ch := c.channel
	c.mu.Unlock()

	c.logger.Info("disconnecting")
	if ch != nil {
		ch.Close()
	}
}

func (c *Client) SetMuted(muted bool) {
	c.muted.Store(muted)
}

func (c *Client) SetAISpeaking(speaking bool) {
	c.aiSpeaking.Store(speaking)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) currentChannel() *transport.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing {
		return nil
	}
	return c.channel
}

func (c *Client) send(ch *transport.Channel, msgType string, msg any) error {
	if err := ch.Send(msg); err != nil {
		c.logger.Warn("send failed", zap.String("type", msgType), zap.Error(err))
		return err
	}
	c.metrics.RecordMessageSent(channelName, msgType)
	return nil
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	ev, err := protocol.DecodeConversationEvent(data)
	if err != nil {
		c.metrics.RecordChannelError(channelName, string(domain.ErrorKindProtocol))
		c.logger.Warn("ignoring malformed message", zap.Error(domain.ProtocolError("decode", err)))
		return
	}

	c.mu.Lock()
	stale := gen != c.gen || c.state == StateClosing
	c.mu.Unlock()
	if stale {
		return
	}
	c.metrics.RecordMessageReceived(channelName, ev.Type)

	switch ev.Type {
	case protocol.TypeAuthenticated:
		c.handleAuthenticated()
	case protocol.TypeSessionStarted:
		c.mu.Lock()
		started := c.state == StateSessionNegotiating
		if started {
			c.state = StateActive
			c.active.Store(true)
		}
		c.mu.Unlock()
		if !started {
			c.logger.Debug("unexpected session_started", zap.Stringer("state", c.State()))
			return
		}
		c.logger.Info("session started")
		c.events.OnSessionStarted()
	case protocol.TypeSpeechStarted:
		c.events.OnSpeechStarted()
	case protocol.TypeSpeechStopped:
		c.events.OnSpeechStopped()
	case protocol.TypeAIResponseStarted:
		c.events.OnResponseStarted()
	case protocol.TypeTextDelta:
		c.events.OnTextDelta(ev.Delta)
	case protocol.TypeAudioDelta:
		c.events.OnAudioDelta(ev.Delta)
	case protocol.TypeResponseDone:
		c.events.OnResponseDone()
	case protocol.TypeError:
		c.logger.Warn("server error", zap.String("message", ev.ErrorText()))
		c.events.OnServerError(ev.ErrorText())
	default:
		c.metrics.RecordChannelError(channelName, string(domain.ErrorKindProtocol))
		c.logger.Debug("ignoring unknown message type", zap.String("type", ev.Type))
	}
}

func (c *Client) handleAuthenticated() {
	c.mu.Lock()
	if c.state != StateAwaitingAuth || c.sessionStartSent {
		c.mu.Unlock()
		c.logger.Debug("duplicate authenticated ignored")
		return
	}
	c.sessionStartSent = true
	c.state = StateSessionNegotiating
	ch := c.channel
	seed := c.seed
	c.mu.Unlock()

	c.logger.Info("authenticated, starting session",
		zap.Int("topics", len(seed.Topics)),
		zap.Int("transcript_len", len(seed.Transcription)))
	c.events.OnAuthenticated()
	_ = c.send(ch, protocol.TypeStartSession, protocol.NewStartSession(seed))
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	local := c.closing
	c.state = StateDisconnected
	c.channel = nil
	c.closing = false
	c.active.Store(false)
	c.mu.Unlock()

	if local {
		c.logger.Info("disconnected")
		return
	}
	if err == nil {
		err = domain.TransportError(channelName, errors.New("connection closed by server"))
	}
	c.metrics.RecordChannelError(channelName, string(domain.KindOf(err)))
	c.logger.Warn("connection lost", zap.Error(err))
	c.events.OnDisconnected(err)
}
