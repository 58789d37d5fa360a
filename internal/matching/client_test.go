package matching

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/transport"
)

type recorder struct {
	mu           sync.Mutex
	welcome      string
	matches      []domain.MatchRecord
	position     int
	wait         time.Duration
	errors       []string
	disconnected error
	signal       chan string
}

func newRecorder() *recorder { return &recorder{signal: make(chan string, 16)} }

func (r *recorder) OnWelcome(connectionID, userID string) {
	r.mu.Lock()
	r.welcome = connectionID + "/" + userID
	r.mu.Unlock()
	r.signal <- "welcome"
}

func (r *recorder) OnMatchFound(m domain.MatchRecord) {
	r.mu.Lock()
	r.matches = append(r.matches, m)
	r.mu.Unlock()
	r.signal <- "match"
}

func (r *recorder) OnQueueUpdate(position int, wait time.Duration) {
	r.mu.Lock()
	r.position, r.wait = position, wait
	r.mu.Unlock()
	r.signal <- "queue"
}

func (r *recorder) OnServerError(message string) {
	r.mu.Lock()
	r.errors = append(r.errors, message)
	r.mu.Unlock()
	r.signal <- "error"
}

func (r *recorder) OnDisconnected(err error) {
	r.mu.Lock()
	r.disconnected = err
	r.mu.Unlock()
	r.signal <- "disconnected"
}

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.signal:
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

// matchServer scripts the matching service: it sends script, then waits for a
// pong and either holds the socket open or drops it.
func matchServer(t *testing.T, script []string, drop bool, pongs chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if drop {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pongs <- string(data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientDispatchesMatchingEvents(t *testing.T) {
	t.Parallel()

	pongs := make(chan string, 4)
	srv := matchServer(t, []string{
		`{"type":"welcome","connection_id":"c1","user_id":"u1"}`,
		`{"type":"queue_update","position":3,"estimated_wait_time":1.5}`,
		`{"type":"bogus"}`,
		`{"type":"match_found","match_id":"m1","room_id":"r1","session_id":"s1","livekit_token":"lk","participants":[{"user_id":"user_2","username":"bo","is_ai":false}],"topics":["go"],"hashtags":["#x"]}`,
		`{"type":"ping"}`,
		`{"type":"error","message":"slow down"}`,
	}, false, pongs)

	rec := newRecorder()
	c := New(Config{URL: wsURL(srv)}, transport.WebSocketDialer{}, rec, nil, nil)
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer c.Close()

	rec.expect(t, "welcome")
	rec.expect(t, "queue")
	rec.expect(t, "match")
	rec.expect(t, "error")

	select {
	case got := <-pongs:
		if got != `{"type":"pong"}` {
			t.Fatalf("unexpected pong: %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no pong sent")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.welcome != "c1/u1" {
		t.Fatalf("unexpected welcome: %s", rec.welcome)
	}
	if rec.position != 3 || rec.wait != 1500*time.Millisecond {
		t.Fatalf("unexpected queue update: %d %s", rec.position, rec.wait)
	}
	m := rec.matches[0]
	if m.MatchID != "m1" || m.CallToken != "lk" || m.RoomID != "r1" || len(m.Participants) != 1 || m.Participants[0].Username != "bo" {
		t.Fatalf("unexpected match: %+v", m)
	}
}

func TestClientReportsMatchWithoutToken(t *testing.T) {
	t.Parallel()

	srv := matchServer(t, []string{
		`{"type":"match_found","match_id":"m2","room_id":"r2","participants":[]}`,
		`{"type":"welcome","connection_id":"c1","user_id":"u1"}`,
	}, false, make(chan string, 4))

	rec := newRecorder()
	c := New(Config{URL: wsURL(srv)}, transport.WebSocketDialer{}, rec, nil, nil)
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer c.Close()

	rec.expect(t, "error")
	rec.expect(t, "welcome")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.matches) != 0 {
		t.Fatalf("an unjoinable match must not be delivered: %+v", rec.matches)
	}
	if len(rec.errors) != 1 || !strings.Contains(rec.errors[0], "livekit_token") {
		t.Fatalf("unexpected errors: %v", rec.errors)
	}
}

func TestClientReportsServerDrop(t *testing.T) {
	t.Parallel()

	srv := matchServer(t, []string{`{"type":"welcome","connection_id":"c1","user_id":"u1"}`}, true, nil)

	rec := newRecorder()
	c := New(Config{URL: wsURL(srv)}, transport.WebSocketDialer{}, rec, nil, nil)
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	rec.expect(t, "welcome")
	rec.expect(t, "disconnected")
	if c.Connected() {
		t.Fatalf("expected channel to be gone")
	}
	rec.mu.Lock()
	err := rec.disconnected
	rec.mu.Unlock()
	if domain.KindOf(err) != domain.ErrorKindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClientCloseIsQuietAndFinal(t *testing.T) {
	t.Parallel()

	pongs := make(chan string, 1)
	srv := matchServer(t, nil, false, pongs)

	rec := newRecorder()
	c := New(Config{URL: wsURL(srv)}, transport.WebSocketDialer{}, rec, nil, nil)
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	c.Close()
	c.Close()

	select {
	case got := <-rec.signal:
		t.Fatalf("unexpected event after close: %s", got)
	case <-time.After(100 * time.Millisecond):
	}

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Connected() {
		t.Fatalf("closed client must not reconnect")
	}
}

func TestClientConnectRejected(t *testing.T) {
	t.Parallel()

	srv := matchServer(t, nil, false, nil)
	c := New(Config{URL: wsURL(srv)}, transport.WebSocketDialer{}, newRecorder(), nil, nil)
	if err := c.Connect(context.Background(), "wrong"); domain.KindOf(err) != domain.ErrorKindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}
