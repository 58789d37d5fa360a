package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/protocol"
	"github.com/keshucs12345/voicematch/internal/transport"
)

type fakeConn struct {
	in        chan []byte
	readErr   chan error
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		readErr: make(chan error, 1),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case err := <-f.readErr:
		return nil, err
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.written <- append([]byte(nil), data...)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(msg string) {
	f.in <- []byte(msg)
}

// next decodes the next written message.
func (f *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.written:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("invalid outbound json: %v", err)
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

func (f *fakeConn) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.written:
		t.Fatalf("unexpected outbound message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(context.Context, string, http.Header) (transport.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type events struct {
	ch chan string

	mu           sync.Mutex
	disconnected error
}

func newEvents() *events { return &events{ch: make(chan string, 64)} }

func (e *events) OnAuthenticated()       { e.ch <- "authenticated" }
func (e *events) OnSessionStarted()      { e.ch <- "session_started" }
func (e *events) OnSpeechStarted()       { e.ch <- "speech_started" }
func (e *events) OnSpeechStopped()       { e.ch <- "speech_stopped" }
func (e *events) OnResponseStarted()     { e.ch <- "response_started" }
func (e *events) OnTextDelta(d string)   { e.ch <- "text:" + d }
func (e *events) OnAudioDelta(d string)  { e.ch <- "audio:" + d }
func (e *events) OnResponseDone()        { e.ch <- "response_done" }
func (e *events) OnServerError(m string) { e.ch <- "error:" + m }
func (e *events) OnDisconnected(err error) {
	e.mu.Lock()
	e.disconnected = err
	e.mu.Unlock()
	e.ch <- "disconnected"
}

func (e *events) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-e.ch:
		if got != want {
			t.Fatalf("expected event %q, got %q", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func connectActive(t *testing.T) (*Client, *fakeConn, *events) {
	t.Helper()
	conn := newFakeConn()
	ev := newEvents()
	c := New(Config{URL: "ws://test", Language: "en"}, &fakeDialer{conn: conn}, ev, nil, nil)

	seed := protocol.UserContext{Topics: []string{"go"}, Transcription: "hello"}
	if err := c.Connect(context.Background(), "tok", seed); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if m := conn.next(t); m["type"] != "auth" || m["token"] != "tok" {
		t.Fatalf("expected auth first, got %v", m)
	}

	conn.push(`{"type":"authenticated"}`)
	ev.expect(t, "authenticated")
	m := conn.next(t)
	if m["type"] != "start_session" || m["output_audio_format"] != "pcm16" {
		t.Fatalf("expected start_session, got %v", m)
	}
	uc := m["user_context"].(map[string]any)
	if uc["transcription"] != "hello" {
		t.Fatalf("unexpected user context: %v", uc)
	}

	conn.push(`{"type":"session_started"}`)
	ev.expect(t, "session_started")
	if c.State() != StateActive {
		t.Fatalf("expected active, got %s", c.State())
	}
	return c, conn, ev
}

func TestClientHandshakeSendsStartSessionOnce(t *testing.T) {
	t.Parallel()

	c, conn, ev := connectActive(t)
	defer c.Disconnect()

	conn.push(`{"type":"authenticated"}`)
	conn.push(`{"type":"speech_started"}`)
	ev.expect(t, "speech_started")
	conn.expectQuiet(t)
}

func TestClientConnectIsNoOpWhenConnected(t *testing.T) {
	t.Parallel()

	c, conn, _ := connectActive(t)
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "tok", protocol.UserContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn.expectQuiet(t)
}

func TestClientAudioGating(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ev := newEvents()
	c := New(Config{URL: "ws://test"}, &fakeDialer{conn: conn}, ev, nil, nil)
	chunk := domain.AudioChunk{Seq: 1, Data: []byte{1, 0, 2, 0}}

	if err := c.SendAudioChunk(chunk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Connect(context.Background(), "tok", protocol.UserContext{}); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	conn.next(t) // auth
	_ = c.SendAudioChunk(chunk)
	conn.expectQuiet(t)

	conn.push(`{"type":"authenticated"}`)
	ev.expect(t, "authenticated")
	conn.next(t) // start_session
	conn.push(`{"type":"session_started"}`)
	ev.expect(t, "session_started")

	_ = c.SendAudioChunk(chunk)
	m := conn.next(t)
	if m["type"] != "audio_chunk" || m["audio_data"] != "AQACAA==" || m["language"] != "en" {
		t.Fatalf("unexpected audio chunk: %v", m)
	}
	if _, ok := m["timestamp"].(float64); !ok {
		t.Fatalf("expected numeric timestamp: %v", m)
	}

	c.SetMuted(true)
	_ = c.SendAudioChunk(chunk)
	conn.expectQuiet(t)

	c.SetMuted(false)
	c.SetAISpeaking(true)
	_ = c.SendAudioChunk(chunk)
	conn.expectQuiet(t)

	c.SetAISpeaking(false)
	_ = c.SendAudioChunk(chunk)
	if m := conn.next(t); m["type"] != "audio_chunk" {
		t.Fatalf("expected audio chunk after unmute, got %v", m)
	}
	c.Disconnect()
}

func TestClientDispatchesAndIgnoresUnknown(t *testing.T) {
	t.Parallel()

	c, conn, ev := connectActive(t)
	defer c.Disconnect()

	conn.push(`not json`)
	conn.push(`{"type":"mystery"}`)
	conn.push(`{"type":"ai_response_started"}`)
	conn.push(`{"type":"response.text.delta","delta":"Hi"}`)
	conn.push(`{"type":"response.audio.delta","delta":"AAA="}`)
	conn.push(`{"type":"response.done"}`)
	conn.push(`{"type":"speech_stopped"}`)
	conn.push(`{"type":"error","message":"quota"}`)

	for _, want := range []string{"response_started", "text:Hi", "audio:AAA=", "response_done", "speech_stopped", "error:quota"} {
		ev.expect(t, want)
	}
}

func TestClientControlMessages(t *testing.T) {
	t.Parallel()

	c, conn, _ := connectActive(t)
	defer c.Disconnect()

	if err := c.SendUtteranceEnd(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := conn.next(t); m["type"] != "utterance_end" {
		t.Fatalf("expected utterance_end, got %v", m)
	}
	if err := c.SendInterrupt(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := conn.next(t); m["type"] != "ai_control" || m["action"] != "interrupt" {
		t.Fatalf("expected interrupt, got %v", m)
	}
}

func TestClientReportsRemoteDisconnect(t *testing.T) {
	t.Parallel()

	c, conn, ev := connectActive(t)

	conn.readErr <- errors.New("connection reset")
	ev.expect(t, "disconnected")

	ev.mu.Lock()
	err := ev.disconnected
	ev.mu.Unlock()
	if domain.KindOf(err) != domain.ErrorKindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
	if err := c.SendInterrupt(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClientLocalDisconnectIsQuietAndIdempotent(t *testing.T) {
	t.Parallel()

	c, _, ev := connectActive(t)

	c.Disconnect()
	c.Disconnect()

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("client did not settle, state %s", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case got := <-ev.ch:
		t.Fatalf("unexpected event after local disconnect: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientDialFailure(t *testing.T) {
	t.Parallel()

	dialErr := domain.TransportError("dial", errors.New("refused"))
	c := New(Config{URL: "ws://test"}, &fakeDialer{err: dialErr}, newEvents(), nil, nil)
	if err := c.Connect(context.Background(), "tok", protocol.UserContext{}); domain.KindOf(err) != domain.ErrorKindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected after dial failure, got %s", c.State())
	}
}

type countingDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *countingDialer) Dial(context.Context, string, http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return newFakeConn(), nil
}

func TestClientConnectAfterDisconnectNeverDials(t *testing.T) {
	t.Parallel()

	d := &countingDialer{}
	c := New(Config{URL: "ws://test"}, d, newEvents(), nil, nil)
	c.Disconnect()

	if err := c.Connect(context.Background(), "tok", protocol.UserContext{}); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials != 0 {
		t.Fatalf("retired client dialed %d times", d.dials)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
}
