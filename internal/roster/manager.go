package roster

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/metrics"
)

// Room is a connected live call.
type Room interface {
	Disconnect()
}

// RoomEvents receives participant changes from the call transport.
type RoomEvents interface {
	ParticipantJoined(identity, name string)
	ParticipantLeft(identity string)
	// Disconnected reports that the server or network ended the call.
	Disconnected()
}

// Connector joins a call. Participants already present when the connection
// completes are reported through events as joins.
type Connector interface {
	Connect(ctx context.Context, roomHandle, token string, events RoomEvents) (Room, error)
}

// Listener observes roster changes. Calls are made outside the manager's lock.
type Listener interface {
	OnParticipantJoined(p domain.Participant)
	OnParticipantLeft(p domain.Participant)
	OnCallEnded()
}

type nopListener struct{}

func (nopListener) OnParticipantJoined(domain.Participant) {}
func (nopListener) OnParticipantLeft(domain.Participant)   {}
func (nopListener) OnCallEnded()                           {}

type Config struct {
	// StripPrefixes are removed from transport identities to get user ids.
	StripPrefixes []string
	AIHostPrefix  string
	AIHostName    string
	SelfUserID    string
}

func (c Config) withDefaults() Config {
	if c.StripPrefixes == nil {
		c.StripPrefixes = []string{"user_", "user-", "identity_"}
	}
	if c.AIHostPrefix == "" {
		c.AIHostPrefix = "ai_"
	}
	if c.AIHostName == "" {
		c.AIHostName = "AI Host"
	}
	return c
}

// Manager owns the live call and its participant roster.
type Manager struct {
	cfg       Config
	connector Connector
	listener  Listener
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu           sync.Mutex
	session      domain.CallSession
	connecting   bool
	room         Room
	gen          uint64
	participants []domain.Participant
}

func NewManager(cfg Config, connector Connector, listener Listener, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if listener == nil {
		listener = nopListener{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		connector: connector,
		listener:  listener,
		logger:    logger.Named("roster"),
		metrics:   m,
	}
}

// JoinMatch seeds the roster from the match's participant list and joins its
// room. It is a no-op while connected, connecting or disconnecting. Seeded
// participants are announced only once the join succeeds; a failed join leaves
// the roster empty.
func (m *Manager) JoinMatch(ctx context.Context, rec domain.MatchRecord) error {
	return m.join(ctx, rec.CallToken, rec.RoomID, rec.Participants)
}

// Join connects to the call. It is a no-op while connected, connecting or
// disconnecting.
func (m *Manager) Join(ctx context.Context, callToken, roomHandle string) error {
	return m.join(ctx, callToken, roomHandle, nil)
}

func (m *Manager) join(ctx context.Context, callToken, roomHandle string, seed []domain.MatchParticipant) error {
	m.mu.Lock()
	if m.busy() {
		m.mu.Unlock()
		m.logger.Debug("join ignored", zap.String("room", roomHandle))
		return nil
	}
	m.connecting = true
	m.gen++
	gen := m.gen
	var seeded []domain.Participant
	for _, mp := range seed {
		if p, ok := m.addLocked(mp.UserID, mp.Username, mp.IsAI); ok {
			seeded = append(seeded, p)
		}
	}
	m.mu.Unlock()

	m.logger.Info("joining call", zap.String("room", roomHandle), zap.Int("seeded", len(seeded)))
	room, err := m.connector.Connect(ctx, roomHandle, callToken, sink{m: m, gen: gen})

	m.mu.Lock()
	m.connecting = false
	if err != nil {
		if gen == m.gen {
			m.gen++
			m.clearLocked()
		}
		m.mu.Unlock()
		return domain.TransportError("join call", err)
	}
	if gen != m.gen {
		// Ended while connecting.
		m.mu.Unlock()
		room.Disconnect()
		return nil
	}
	m.room = room
	m.session = domain.CallSession{RoomHandle: roomHandle, IsConnected: true}
	n := len(m.participants)
	m.mu.Unlock()

	for _, p := range seeded {
		m.listener.OnParticipantJoined(p)
	}
	m.logger.Info("joined call", zap.String("room", roomHandle), zap.Int("participants", n))
	return nil
}

// Leave disconnects from the call and clears the roster. Only one disconnect
// sequence runs at a time; other calls return at once.
func (m *Manager) Leave() {
	m.mu.Lock()
	if m.session.IsDisconnecting || (!m.session.IsConnected && !m.connecting) {
		m.mu.Unlock()
		return
	}
	if m.connecting {
		// The pending Join disconnects the room when it lands.
		m.gen++
		m.clearLocked()
		m.mu.Unlock()
		return
	}
	m.session.IsDisconnecting = true
	room, handle := m.room, m.session.RoomHandle
	m.mu.Unlock()

	m.logger.Info("leaving call", zap.String("room", handle))
	if room != nil {
		room.Disconnect()
	}

	m.mu.Lock()
	m.gen++
	m.clearLocked()
	m.mu.Unlock()

	m.listener.OnCallEnded()
}

func (m *Manager) Participants() []domain.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Participant(nil), m.participants...)
}

func (m *Manager) Session() domain.CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.IsConnected
}

func (m *Manager) busy() bool {
	return m.connecting || m.session.IsConnected || m.session.IsDisconnecting
}

func (m *Manager) clearLocked() {
	m.participants = nil
	m.room = nil
	m.session = domain.CallSession{}
	m.metrics.SetParticipants(0)
}

// normalize strips the first matching transport prefix.
func (m *Manager) normalize(identity string) string {
	for _, p := range m.cfg.StripPrefixes {
		if p != "" && strings.HasPrefix(identity, p) {
			return strings.TrimPrefix(identity, p)
		}
	}
	return identity
}

func (m *Manager) indexLocked(identity string) int {
	norm := m.normalize(identity)
	for i, p := range m.participants {
		if p.UserID == identity || p.UserID == norm {
			return i
		}
	}
	return -1
}

func (m *Manager) addLocked(identity, name string, isAI bool) (domain.Participant, bool) {
	if identity == "" {
		return domain.Participant{}, false
	}
	if m.indexLocked(identity) >= 0 {
		m.logger.Debug("duplicate participant dropped", zap.String("identity", identity))
		return domain.Participant{}, false
	}

	id := m.normalize(identity)
	p := domain.Participant{
		UserID:        id,
		DisplayName:   name,
		IsCurrentUser: m.cfg.SelfUserID != "" && id == m.cfg.SelfUserID,
		IsAIHost:      isAI || strings.HasPrefix(identity, m.cfg.AIHostPrefix) || strings.HasPrefix(id, m.cfg.AIHostPrefix),
	}
	switch {
	case p.IsAIHost:
		p.DisplayName = m.cfg.AIHostName
	case p.DisplayName == "":
		p.DisplayName = id
	}
	m.participants = append(m.participants, p)
	m.metrics.SetParticipants(len(m.participants))
	return p, true
}

// sink routes one connection's room events to the manager.
type sink struct {
	m   *Manager
	gen uint64
}

func (s sink) ParticipantJoined(identity, name string) {
	m := s.m
	m.mu.Lock()
	if s.gen != m.gen || m.session.IsDisconnecting {
		m.mu.Unlock()
		return
	}
	p, ok := m.addLocked(identity, name, false)
	m.mu.Unlock()

	if ok {
		m.logger.Info("participant joined", zap.String("user_id", p.UserID), zap.Bool("ai_host", p.IsAIHost))
		m.listener.OnParticipantJoined(p)
	}
}

func (s sink) ParticipantLeft(identity string) {
	m := s.m
	m.mu.Lock()
	if s.gen != m.gen {
		m.mu.Unlock()
		return
	}
	i := m.indexLocked(identity)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	p := m.participants[i]
	m.participants = append(m.participants[:i], m.participants[i+1:]...)
	remaining := len(m.participants)
	m.metrics.SetParticipants(remaining)
	m.mu.Unlock()

	m.logger.Info("participant left", zap.String("name", p.DisplayName), zap.Int("remaining", remaining))
	m.listener.OnParticipantLeft(p)
}

func (s sink) Disconnected() {
	m := s.m
	m.mu.Lock()
	if s.gen != m.gen || m.session.IsDisconnecting || !m.session.IsConnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.clearLocked()
	m.mu.Unlock()

	m.logger.Warn("call dropped by server")
	m.listener.OnCallEnded()
}
