// Package session implements the client side of the duplex transport: a
// single long-lived websocket connection with authentication, heartbeat,
// reconnection with capped backoff, an ordered outbound queue, and
// inbound event fan-out.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/wire"
)

// State is the connection state machine position.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Authenticated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Authenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

const (
	heartbeatPeriod = 20 * time.Second
	writeTimeout    = 10 * time.Second
)

// Subscriber receives inbound frames. A subscriber is called exactly
// once per matching frame; a panicking subscriber is recovered so the
// rest still run.
type Subscriber func(frame wire.Frame)

// StateHandler observes connection state transitions.
type StateHandler func(state State)

// Session owns one authenticated duplex connection. Construct one per
// active connection and hand it to consumers; it is not a singleton.
type Session struct {
	url    string
	tokens auth.TokenSource
	dialer *websocket.Dialer
	log    *logrus.Entry

	writeMu sync.Mutex // serializes socket writes

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	queue         []wire.Frame
	joinedToken   string
	failures      int
	subs          map[string][]Subscriber
	catchAll      []Subscriber
	stateHandlers []StateHandler

	closeOnce sync.Once
	closed    chan struct{}
}

func New(url string, tokens auth.TokenSource, log *logrus.Entry) *Session {
	return &Session{
		url:    url,
		tokens: tokens,
		dialer: websocket.DefaultDialer,
		log:    log,
		subs:   make(map[string][]Subscriber),
		closed: make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for frames of the given type.
func (s *Session) Subscribe(frameType string, fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[frameType] = append(s.subs[frameType], fn)
}

// SubscribeAll registers a catch-all subscriber. It sees every inbound
// frame once, in addition to any per-type subscribers.
func (s *Session) SubscribeAll(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catchAll = append(s.catchAll, fn)
}

// OnStateChange registers a handler for state transitions.
func (s *Session) OnStateChange(fn StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandlers = append(s.stateHandlers, fn)
}

// Run connects and keeps the session alive until ctx is canceled or
// Close is called. Reconnects use capped exponential backoff that resets
// after a successful open.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		s.setState(Connecting)
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.mu.Lock()
			delay := backoffDelay(s.failures)
			s.failures++
			s.mu.Unlock()
			s.setState(Disconnected)
			s.log.WithError(err).WithField("retry_in", delay).Debug("connect failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closed:
				return nil
			case <-time.After(delay):
			}
			continue
		}

		s.mu.Lock()
		s.failures = 0
		s.conn = conn
		s.joinedToken = ""
		s.mu.Unlock()
		s.setState(Open)

		// Authentication is the join frame; the server routes nothing to
		// this connection before it.
		if err := s.join(); err == nil {
			s.setState(Authenticated)
			s.flushQueue()
		}

		heartbeatDone := make(chan struct{})
		go s.heartbeat(heartbeatDone)
		s.readLoop(conn)
		close(heartbeatDone)

		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.joinedToken = ""
		s.mu.Unlock()
		s.setState(Disconnected)
	}
}

// Close tears the session down permanently.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

// Send transmits a frame, preserving FIFO order. While the session is
// not authenticated, or while older frames are still queued, the frame
// is buffered behind them and flushed after the next successful join; a
// direct-write failure re-queues it the same way.
func (s *Session) Send(frame wire.Frame) {
	s.mu.Lock()
	// flushQueue is the sole drainer; writing past a non-empty queue
	// would reorder delivery.
	if s.state != Authenticated || s.conn == nil || len(s.queue) > 0 {
		s.queue = append(s.queue, frame)
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	if err := s.writeFrame(conn, frame); err != nil {
		s.log.WithError(err).Debug("send failed, re-queueing")
		s.mu.Lock()
		s.queue = append(s.queue, frame)
		s.mu.Unlock()
	}
}

// Rejoin re-authenticates on the live socket when the credential has
// changed, without a reconnect. With an unchanged credential it is a
// no-op.
func (s *Session) Rejoin() {
	s.mu.Lock()
	conn := s.conn
	current := s.joinedToken
	s.mu.Unlock()
	if conn == nil || s.tokens.Token() == current {
		return
	}
	if err := s.join(); err != nil {
		s.log.WithError(err).Warn("rejoin failed")
		return
	}
	s.setState(Authenticated)
	s.flushQueue()
}

// join sends the authenticate frame with the current credential.
func (s *Session) join() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	token := s.tokens.Token()
	err := s.writeFrame(conn, wire.Frame{Type: wire.TypeJoin, Token: token})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.joinedToken = token
	s.mu.Unlock()
	return nil
}

// heartbeat periodically re-sends the join frame and a keepalive ping.
// Re-asserting the join refreshes the server's liveness view and
// re-authenticates if the server forgot the session, or if the initial
// join on this connection never went through.
func (s *Session) heartbeat(done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.closed:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			if err := s.join(); err != nil {
				return
			}
			s.setState(Authenticated)
			s.flushQueue()
			if err := s.writeFrame(conn, wire.Frame{Type: wire.TypePing, Timestamp: time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

func (s *Session) flushQueue() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.conn == nil {
			s.mu.Unlock()
			return
		}
		frame := s.queue[0]
		s.queue = s.queue[1:]
		conn := s.conn
		s.mu.Unlock()

		if err := s.writeFrame(conn, frame); err != nil {
			// Put the unsent frame back at the front; the next
			// successful join flushes it in order.
			s.log.WithError(err).Debug("flush interrupted")
			s.mu.Lock()
			s.queue = append([]wire.Frame{frame}, s.queue...)
			s.mu.Unlock()
			return
		}
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, frame wire.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.WithError(err).Debug("connection lost")
			}
			return
		}
		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		s.dispatch(frame)
	}
}

// dispatch delivers the frame exactly once to each matching per-type
// subscriber and exactly once to each catch-all subscriber.
func (s *Session) dispatch(frame wire.Frame) {
	s.mu.Lock()
	typed := make([]Subscriber, len(s.subs[frame.Type]))
	copy(typed, s.subs[frame.Type])
	all := make([]Subscriber, len(s.catchAll))
	copy(all, s.catchAll)
	s.mu.Unlock()

	for _, fn := range typed {
		s.safeCall(fn, frame)
	}
	for _, fn := range all {
		s.safeCall(fn, frame)
	}
}

func (s *Session) safeCall(fn Subscriber, frame wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("subscriber panicked")
		}
	}()
	fn(frame)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	handlers := make([]StateHandler, len(s.stateHandlers))
	copy(handlers, s.stateHandlers)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(state)
	}
}
