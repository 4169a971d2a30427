package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/wire"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// frameServer records every frame each client connection sends.
type frameServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	frames []wire.Frame
	conns  int
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newFrameServer(t *testing.T) *frameServer {
	fs := &frameServer{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns++
		fs.mu.Unlock()
		defer conn.Close()
		for {
			var frame wire.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, frame)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *frameServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *frameServer) waitFrames(t *testing.T, n int) []wire.Frame {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		if len(fs.frames) >= n {
			out := make([]wire.Frame, len(fs.frames))
			copy(out, fs.frames)
			fs.mu.Unlock()
			return out
		}
		fs.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	t.Fatalf("Timed out waiting for %d frames, have %d", n, len(fs.frames))
	return nil
}

func (fs *frameServer) frameCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.frames)
}

// mutableToken lets a test rotate the credential mid-session.
type mutableToken struct {
	mu    sync.Mutex
	token string
}

func (m *mutableToken) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *mutableToken) set(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func TestBackoffDelayProperties(t *testing.T) {
	prev := time.Duration(0)
	for failures := 0; failures < 20; failures++ {
		d := backoffDelay(failures)
		assert.GreaterOrEqual(t, d, prev, "backoff must be non-decreasing")
		assert.LessOrEqual(t, d, backoffCap, "backoff must be bounded by the cap")
		prev = d
	}
	assert.Equal(t, backoffBase, backoffDelay(0), "a success resets to the base delay")
	assert.Equal(t, backoffCap, backoffDelay(19))
}

func TestQueuedSendsFlushInOrderAfterJoin(t *testing.T) {
	fs := newFrameServer(t)
	s := New(fs.url(), auth.StaticToken("tok"), testLog())

	// Sends while disconnected buffer locally.
	for _, content := range []string{"first", "second", "third"} {
		s.Send(wire.Frame{Type: wire.TypeMessage, Content: content})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Close()

	frames := fs.waitFrames(t, 4)
	require.Equal(t, wire.TypeJoin, frames[0].Type, "join precedes any queued frame")
	assert.Equal(t, "tok", frames[0].Token)
	assert.Equal(t, "first", frames[1].Content)
	assert.Equal(t, "second", frames[2].Content)
	assert.Equal(t, "third", frames[3].Content)
}

func TestSendWhileAuthenticatedGoesStraightThrough(t *testing.T) {
	fs := newFrameServer(t)
	s := New(fs.url(), auth.StaticToken("tok"), testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Close()

	fs.waitFrames(t, 1)
	require.Eventually(t, func() bool { return s.State() == Authenticated },
		2*time.Second, 10*time.Millisecond)

	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "live"})
	frames := fs.waitFrames(t, 2)
	assert.Equal(t, "live", frames[1].Content)
}

func TestSendNeverOvertakesQueuedFrames(t *testing.T) {
	fs := newFrameServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(fs.url(), nil)
	require.NoError(t, err)
	conn.Close()

	s := New(fs.url(), auth.StaticToken("tok"), testLog())

	// Buffer while disconnected.
	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "first"})

	// Authenticated on a dead socket the read loop has not noticed yet.
	s.mu.Lock()
	s.state = Authenticated
	s.conn = conn
	s.mu.Unlock()

	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "second"})
	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "third"})

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.queue, 3)
	assert.Equal(t, "first", s.queue[0].Content, "a live send must not overtake the backlog")
	assert.Equal(t, "second", s.queue[1].Content)
	assert.Equal(t, "third", s.queue[2].Content)
}

func TestFailedDirectSendRequeuesAtBack(t *testing.T) {
	fs := newFrameServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(fs.url(), nil)
	require.NoError(t, err)
	conn.Close()

	s := New(fs.url(), auth.StaticToken("tok"), testLog())
	s.mu.Lock()
	s.state = Authenticated
	s.conn = conn
	s.mu.Unlock()

	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "lost"})
	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "later"})

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.queue, 2)
	assert.Equal(t, "lost", s.queue[0].Content)
	assert.Equal(t, "later", s.queue[1].Content)
}

func TestRejoinRecoversMissedAuthentication(t *testing.T) {
	fs := newFrameServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(fs.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	s := New(fs.url(), auth.StaticToken("tok"), testLog())
	s.Send(wire.Frame{Type: wire.TypeMessage, Content: "pending"})

	// Open socket whose initial join write was lost.
	s.mu.Lock()
	s.state = Open
	s.conn = conn
	s.mu.Unlock()

	s.Rejoin()

	assert.Equal(t, Authenticated, s.State(), "a successful late join must authenticate the session")
	frames := fs.waitFrames(t, 2)
	require.Equal(t, wire.TypeJoin, frames[0].Type)
	assert.Equal(t, "pending", frames[1].Content, "the backlog flushes after the late join")
}

func TestRejoinIdempotentAndOnTokenChange(t *testing.T) {
	fs := newFrameServer(t)
	tokens := &mutableToken{token: "token-one"}
	s := New(fs.url(), tokens, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Close()

	fs.waitFrames(t, 1)
	before := fs.frameCount()

	// Same credential: no frame is written.
	s.Rejoin()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, fs.frameCount(), "rejoin with unchanged token is a no-op")

	// Changed credential: a fresh join on the same connection.
	tokens.set("token-two")
	s.Rejoin()
	frames := fs.waitFrames(t, before+1)
	assert.Equal(t, wire.TypeJoin, frames[before].Type)
	assert.Equal(t, "token-two", frames[before].Token)

	fs.mu.Lock()
	conns := fs.conns
	fs.mu.Unlock()
	assert.Equal(t, 1, conns, "token change must not force a reconnect")
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var mu sync.Mutex
	joins := 0
	drops := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		drops <- conn
		for {
			var frame wire.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == wire.TypeJoin {
				mu.Lock()
				joins++
				mu.Unlock()
			}
		}
	}))
	defer srv.Close()

	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), auth.StaticToken("tok"), testLog())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Close()

	// Kill the first connection; the session must dial and join again.
	first := <-drops
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return joins >= 1
	}, 2*time.Second, 10*time.Millisecond)
	first.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return joins >= 2
	}, 5*time.Second, 20*time.Millisecond, "expected a re-join after reconnect")
}

func TestDispatchExactlyOnce(t *testing.T) {
	s := New("ws://unused", auth.StaticToken("tok"), testLog())

	var typed, other, all int
	s.Subscribe(wire.TypeNewMessage, func(wire.Frame) { typed++ })
	s.Subscribe(wire.TypeTyping, func(wire.Frame) { other++ })
	s.SubscribeAll(func(wire.Frame) { all++ })

	s.dispatch(wire.Frame{Type: wire.TypeNewMessage})
	assert.Equal(t, 1, typed, "per-type subscriber fires once")
	assert.Equal(t, 0, other, "unrelated subscriber does not fire")
	assert.Equal(t, 1, all, "catch-all fires once for a known type")

	s.dispatch(wire.Frame{Type: "mystery"})
	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all, "catch-all still sees unknown types")
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	s := New("ws://unused", auth.StaticToken("tok"), testLog())

	var survived bool
	s.Subscribe(wire.TypeNewMessage, func(wire.Frame) { panic("bad subscriber") })
	s.Subscribe(wire.TypeNewMessage, func(wire.Frame) { survived = true })

	s.dispatch(wire.Frame{Type: wire.TypeNewMessage})
	assert.True(t, survived, "a failing subscriber must not block the rest")
}
