package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/metrics"
)

type convHolder struct {
	client ConversationClient
}

// Coordinator composes capture, the conversation and matching channels and
// playback into one conversation session. All entry points, including channel
// and playback callbacks, are serialized by one mutex. Listener calls happen
// after the mutex is released.
type Coordinator struct {
	deps     Deps
	logger   *zap.Logger
	metrics  *metrics.Metrics
	playback Playback

	// conv mirrors c.conv for the capture thread, which must never take mu.
	conv atomic.Pointer[convHolder]

	mu             sync.Mutex
	state          domain.SessionState
	session        domain.ConversationSession
	muted          bool
	capturing      bool
	formatReported bool
	gen            uint64
	cancel         context.CancelFunc
	client         ConversationClient
	matching       MatchingClient
	matchGen       uint64
	match          *domain.MatchRecord
	closed         bool
}

func New(deps Deps, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	c := &Coordinator{
		deps:    deps,
		logger:  logger.Named("session"),
		metrics: m,
		state:   domain.SessionStateIdle,
	}
	c.playback = deps.NewPlayback(c.turnComplete)
	return c
}

// emits collects listener notifications while mu is held.
type emits []func()

func (e *emits) add(fn func()) { *e = append(*e, fn) }

func (e emits) fire() {
	for _, fn := range e {
		fn()
	}
}

// Initialize opens a new conversation. It is a no-op while a session is being
// set up or is active. Channels are dialed in the background; failures arrive
// through the listener.
func (c *Coordinator) Initialize(ctx context.Context, s domain.ConversationSession) error {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("coordinator closed")
	}
	if c.state.Busy() {
		c.logger.Debug("initialize ignored", zap.String("state", string(c.state)))
		return nil
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	c.gen++
	gen := c.gen
	c.session = s
	c.formatReported = false
	c.setState(domain.SessionStateInitializing, &out)

	convCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	client := c.deps.NewConversation(conversationSink{c: c, gen: gen})
	client.SetMuted(c.muted)
	client.SetAISpeaking(false)
	c.client = client
	c.conv.Store(&convHolder{client: client})

	var matching MatchingClient
	if c.matching == nil {
		c.matchGen++
		matching = c.deps.NewMatching(matchingSink{c: c, gen: c.matchGen})
		c.matching = matching
	}

	c.logger.Info("initializing session",
		zap.String("session_id", s.ID),
		zap.Int("topics", len(s.Topics)),
		zap.Bool("reuse_matching", matching == nil))

	go func() {
		seed := c.deps.Seed.Build(convCtx, s)
		if err := client.Connect(convCtx, s.AuthToken, seed); err != nil {
			c.conversationLost(gen, err)
		}
	}()
	if matching != nil {
		matchGen := c.matchGen
		go func() {
			if err := matching.Connect(ctx, s.AuthToken); err != nil {
				c.matchingLost(matchGen, err)
			}
		}()
	}
	return nil
}

// ToggleMute flips the user mute flag and returns the new value. Unmuting
// while the AI speaks leaves capture off until the turn completes.
func (c *Coordinator) ToggleMute() bool {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = !c.muted
	muted := c.muted
	if c.client != nil {
		c.client.SetMuted(muted)
	}

	if c.state == domain.SessionStateListening {
		if muted {
			c.stopCapture()
			if err := c.client.SendUtteranceEnd(); err != nil {
				c.logger.Debug("utterance_end not sent", zap.Error(err))
			}
		} else {
			c.startCapture(&out)
		}
	}

	c.logger.Info("mute toggled", zap.Bool("muted", muted), zap.String("state", string(c.state)))
	out.add(func() { c.deps.Listener.OnMuteChanged(muted) })
	return muted
}

// Interrupt cuts the AI off: playback stops at once and the service is told
// to abandon the response.
func (c *Coordinator) Interrupt() {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.SessionStateAISpeaking {
		return
	}
	c.playback.StopAll()
	if err := c.client.SendInterrupt(); err != nil {
		c.logger.Debug("interrupt not sent", zap.Error(err))
	}
	c.resumeListening(&out)
}

// Stop tears the conversation down without waiting on the network. The
// matching channel stays open while a match is pending hand-off. Repeated
// calls are no-ops.
func (c *Coordinator) Stop() {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(&out)
}

func (c *Coordinator) stopLocked(out *emits) {
	if c.state == domain.SessionStateIdle || c.state == domain.SessionStateStopped {
		return
	}

	c.logger.Info("stopping session", zap.String("session_id", c.session.ID))
	c.teardownConversation()

	if c.match == nil {
		c.closeMatching()
	} else {
		c.logger.Info("keeping matching channel open for pending match", zap.String("match_id", c.match.MatchID))
	}
	c.setState(domain.SessionStateStopped, out)
}

// Close is the owner's final shutdown: Stop, then close the matching channel
// and playback unconditionally. It must not be called from a Listener callback.
func (c *Coordinator) Close() {
	var out emits

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked(&out)
	c.closeMatching()
	c.mu.Unlock()

	out.fire()
	c.playback.Close()
}

func (c *Coordinator) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// MatchFound returns a copy of the pending match, if any.
func (c *Coordinator) MatchFound() (domain.MatchRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.match == nil {
		return domain.MatchRecord{}, false
	}
	return c.match.Clone(), true
}

// ClearMatchFound drops the pending match. It is never called implicitly.
func (c *Coordinator) ClearMatchFound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.match = nil
	c.releaseMatching()
}

// ConsumeMatch copies out the pending match and clears it in one step.
func (c *Coordinator) ConsumeMatch() (domain.MatchRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.match == nil {
		return domain.MatchRecord{}, false
	}
	m := c.match.Clone()
	c.match = nil
	c.releaseMatching()
	return m, true
}

// View returns a read-only handle.
func (c *Coordinator) View() View {
	return c
}

// releaseMatching closes a matching channel kept alive only for a pending match.
func (c *Coordinator) releaseMatching() {
	if c.state == domain.SessionStateStopped || c.state == domain.SessionStateIdle {
		c.closeMatching()
	}
}

func (c *Coordinator) closeMatching() {
	if c.matching == nil {
		return
	}
	c.matching.Close()
	c.matching = nil
	c.matchGen++
}

func (c *Coordinator) teardownConversation() {
	c.stopCapture()
	c.playback.StopAll()
	if c.client != nil {
		c.client.Disconnect()
		c.client = nil
	}
	// Cancel after Disconnect so a pending Connect sees the retired client.
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conv.Store(nil)
	c.gen++
}

func (c *Coordinator) setState(s domain.SessionState, out *emits) {
	if c.state == s {
		return
	}
	c.logger.Debug("state change", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
	c.metrics.RecordTransition(string(s))
	out.add(func() { c.deps.Listener.OnStateChanged(s) })
}

func (c *Coordinator) startCapture(out *emits) {
	if c.capturing || c.muted || c.deps.Capture == nil {
		return
	}
	if err := c.deps.Capture.Start(c.handleChunk); err != nil {
		c.logger.Warn("capture unavailable", zap.Error(err))
		if !c.formatReported {
			c.formatReported = true
			out.add(func() { c.deps.Listener.OnError(err) })
		}
		return
	}
	c.capturing = true
}

func (c *Coordinator) stopCapture() {
	if !c.capturing {
		return
	}
	c.capturing = false
	if err := c.deps.Capture.Stop(); err != nil {
		c.logger.Warn("capture stop failed", zap.Error(err))
	}
}

// handleChunk runs on the capture thread and must not block or take mu.
func (c *Coordinator) handleChunk(chunk domain.AudioChunk) {
	c.metrics.RecordChunkCaptured()
	h := c.conv.Load()
	if h == nil {
		return
	}
	if err := h.client.SendAudioChunk(chunk); err != nil {
		c.logger.Debug("audio chunk dropped", zap.Uint64("seq", chunk.Seq), zap.Error(err))
	}
}

func (c *Coordinator) resumeListening(out *emits) {
	c.client.SetAISpeaking(false)
	c.setState(domain.SessionStateListening, out)
	c.startCapture(out)
}

// turnComplete runs on the playback executor when the queue drains.
func (c *Coordinator) turnComplete() {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.SessionStateAISpeaking {
		return
	}
	c.logger.Debug("ai turn complete")
	c.resumeListening(&out)
}

func (c *Coordinator) conversationLost(gen uint64, err error) {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.logger.Warn("conversation channel lost", zap.Error(err))
	c.teardownConversation()
	c.setState(domain.SessionStateStopped, &out)
	out.add(func() { c.deps.Listener.OnError(err) })
}

func (c *Coordinator) matchingLost(gen uint64, err error) {
	var out emits
	defer func() { out.fire() }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.matchGen {
		return
	}
	c.logger.Warn("matching channel lost", zap.Error(err))
	c.matching = nil
	c.matchGen++
	out.add(func() { c.deps.Listener.OnError(err) })
}

// conversationSink routes conversation events of one initialization.
type conversationSink struct {
	c   *Coordinator
	gen uint64
}

// with runs fn under the coordinator lock if the sink is still current.
func (s conversationSink) with(fn func(out *emits)) {
	var out emits
	defer func() { out.fire() }()

	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.gen != s.c.gen {
		return
	}
	fn(&out)
}

func (s conversationSink) OnAuthenticated() {
	s.with(func(out *emits) {
		if s.c.state == domain.SessionStateInitializing {
			s.c.setState(domain.SessionStateAuthenticated, out)
		}
	})
}

func (s conversationSink) OnSessionStarted() {
	s.with(func(out *emits) {
		c := s.c
		if c.state != domain.SessionStateInitializing && c.state != domain.SessionStateAuthenticated {
			return
		}
		c.logger.Info("session active", zap.String("session_id", c.session.ID))
		c.resumeListening(out)
	})
}

func (s conversationSink) OnSpeechStarted() {
	s.with(func(out *emits) {
		out.add(func() { s.c.deps.Listener.OnUserSpeech(true) })
	})
}

func (s conversationSink) OnSpeechStopped() {
	s.with(func(out *emits) {
		out.add(func() { s.c.deps.Listener.OnUserSpeech(false) })
	})
}

func (s conversationSink) OnResponseStarted() {
	s.with(func(out *emits) {
		c := s.c
		if !c.state.Active() {
			return
		}
		c.playback.Begin()
		c.client.SetAISpeaking(true)
		c.stopCapture()
		c.setState(domain.SessionStateAISpeaking, out)
	})
}

func (s conversationSink) OnTextDelta(delta string) {
	s.with(func(out *emits) {
		out.add(func() { s.c.deps.Listener.OnTranscriptDelta(delta) })
	})
}

func (s conversationSink) OnAudioDelta(delta string) {
	s.with(func(*emits) {
		if s.c.state.Active() {
			s.c.playback.Append(delta)
		}
	})
}

func (s conversationSink) OnResponseDone() {
	s.with(func(*emits) {
		if s.c.state == domain.SessionStateAISpeaking {
			s.c.playback.Finish()
		}
	})
}

func (s conversationSink) OnServerError(message string) {
	s.with(func(out *emits) {
		err := fmt.Errorf("conversation service error: %s", message)
		out.add(func() { s.c.deps.Listener.OnError(err) })
	})
}

func (s conversationSink) OnDisconnected(err error) {
	s.c.conversationLost(s.gen, err)
}

// matchingSink routes matching events of one matching channel.
type matchingSink struct {
	c   *Coordinator
	gen uint64
}

func (s matchingSink) with(fn func(out *emits)) {
	var out emits
	defer func() { out.fire() }()

	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.gen != s.c.matchGen {
		return
	}
	fn(&out)
}

func (s matchingSink) OnWelcome(connectionID, userID string) {
	s.with(func(*emits) {
		s.c.logger.Debug("matching connected", zap.String("connection_id", connectionID), zap.String("user_id", userID))
	})
}

func (s matchingSink) OnMatchFound(match domain.MatchRecord) {
	s.with(func(out *emits) {
		rec := match.Clone()
		s.c.match = &rec
		s.c.logger.Info("match recorded",
			zap.String("match_id", rec.MatchID),
			zap.String("conversation_state", string(s.c.state)))
		notify := rec.Clone()
		out.add(func() { s.c.deps.Listener.OnMatchFound(notify) })
	})
}

func (s matchingSink) OnQueueUpdate(position int, wait time.Duration) {
	s.with(func(out *emits) {
		out.add(func() { s.c.deps.Listener.OnQueueUpdate(position, wait) })
	})
}

func (s matchingSink) OnServerError(message string) {
	s.with(func(out *emits) {
		err := fmt.Errorf("matching service error: %s", message)
		out.add(func() { s.c.deps.Listener.OnError(err) })
	})
}

func (s matchingSink) OnDisconnected(err error) {
	s.c.matchingLost(s.gen, err)
}
