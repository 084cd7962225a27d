package voice

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Callbacks receives transport events. OnMessage calls are strictly ordered:
// the transport invokes them from a single read loop in arrival order.
// OnClose fires at most once, for both peer-initiated and graceful closes.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(protocol.ServerMessage)
	OnError   func(error)
	OnClose   func()
}

// Sender is the send capability of an open session. Frames sent before the
// transport reports open are queued and flushed on readiness rather than
// failing.
type Sender interface {
	SendAudio(frame protocol.ClientAudioFrame) error
	Close() error
}

// Transport opens realtime tutoring sessions.
type Transport interface {
	Connect(ctx context.Context, setup protocol.ClientSetup, cb Callbacks) (Sender, error)
}

// WebsocketTransport dials a websocket endpoint for each session.
type WebsocketTransport struct {
	URL    string
	Header http.Header
	Logger *slog.Logger
}

// Connect starts dialing and returns a Sender immediately. The dial, setup
// write and read loop run in the background; readiness is reported through
// cb.OnOpen, and audio sent before then is queued.
func (t *WebsocketTransport) Connect(ctx context.Context, setup protocol.ClientSetup, cb Callbacks) (Sender, error) {
	if t == nil || t.URL == "" {
		return nil, core.NewInvalidRequestError("transport URL must not be empty")
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &wsSession{
		cb:     cb,
		logger: logger,
	}
	go s.dial(ctx, t.URL, t.Header, setup)
	return s, nil
}

type wsSession struct {
	cb     Callbacks
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   bool
	pending []protocol.ClientAudioFrame
	failed  bool

	writeMu sync.Mutex

	closeOnce sync.Once
	closeEmit sync.Once
	closed    bool
}

func (s *wsSession) dial(ctx context.Context, url string, header http.Header, setup protocol.ClientSetup) {
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, header)
	if err != nil {
		if resp != nil {
			err = core.NewTransportError("websocket dial failed (status " + resp.Status + "): " + err.Error())
		} else {
			err = core.NewTransportError("websocket dial failed: " + err.Error())
		}
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if err := conn.WriteJSON(setup); err != nil {
		s.fail(core.NewTransportError("send session setup: " + err.Error()))
		_ = conn.Close()
		return
	}

	// Transport is now ready: report open, then flush anything queued
	// while the dial was in flight.
	s.mu.Lock()
	s.ready = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	for _, frame := range queued {
		if err := s.writeFrame(frame); err != nil {
			s.fail(err)
			return
		}
	}

	s.readLoop(conn)
}

func (s *wsSession) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.isClosed() {
				s.emitClose()
				return
			}
			s.emitError(core.NewTransportError(err.Error()))
			s.emitClose()
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			s.logger.Warn("dropping undecodable live frame", "err", err)
			continue
		}
		if msg.Error != nil {
			s.emitError(core.NewTransportError(msg.Error.Message))
			continue
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(msg)
		}
	}
}

// SendAudio sends one encoded microphone frame. Before the transport is
// ready the frame is queued; after a failure or close it is dropped with an
// error.
func (s *wsSession) SendAudio(frame protocol.ClientAudioFrame) error {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return core.NewTransportError("live session is closed")
	}
	if !s.ready {
		s.pending = append(s.pending, frame)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.writeFrame(frame)
}

func (s *wsSession) writeFrame(frame protocol.ClientAudioFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return core.NewTransportError("live session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return core.NewTransportError("send audio frame: " + err.Error())
	}
	return nil
}

// Close requests a graceful shutdown. Safe to call more than once and at
// any point of the connect sequence.
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.pending = nil
		s.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(2 * time.Second)
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			s.writeMu.Unlock()
			_ = conn.Close()
		} else {
			// Dial never completed; nothing to unwind beyond the queue.
			s.emitClose()
		}
	})
	return nil
}

func (s *wsSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSession) fail(err error) {
	s.mu.Lock()
	s.failed = true
	s.pending = nil
	s.mu.Unlock()
	s.emitError(err)
	s.emitClose()
}

func (s *wsSession) emitError(err error) {
	if s.cb.OnError != nil && err != nil {
		s.cb.OnError(err)
	}
}

func (s *wsSession) emitClose() {
	s.closeEmit.Do(func() {
		if s.cb.OnClose != nil {
			s.cb.OnClose()
		}
	})
}
