// Package voice implements the realtime tutoring session: microphone
// capture, bidirectional PCM transport, turn-based transcript accumulation
// and gapless playback of synthesized speech.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

// State is the lifecycle state of one tutoring session.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Microphone is the capture device boundary. Open acquires the device (the
// permission step); Frames is valid only after a successful Open and yields
// fixed-size mono float32 frames at protocol.InputSampleRateHz until Close.
type Microphone interface {
	Open(ctx context.Context) error
	Frames() <-chan []float32
	Close() error
}

// Output is the playback boundary: a clock plus a player at
// protocol.OutputSampleRateHz.
type Output interface {
	Clock
	Player
}

// SessionConfig wires one tutoring session.
type SessionConfig struct {
	Topic      types.Topic
	Transport  Transport
	Microphone Microphone
	Output     Output
	Logger     *slog.Logger
}

// Session owns the lifecycle of one realtime tutoring session. A session is
// single-use: once it reaches StateError or StateDisconnected a new Session
// must be constructed.
//
// Every resource acquired during Start is released on every exit path:
// explicit end, caller cancellation mid-startup, transport error, or peer
// close. Close is idempotent and safe after a partial startup.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	transcript *Accumulator
	scheduler  *Scheduler

	mu       sync.Mutex
	state    State
	sender   Sender
	micOpen  bool
	captureQ chan struct{}

	cancelled atomic.Bool
	closeOnce sync.Once
}

// NewSession creates a session in StateConnecting. Nothing is acquired
// until Start.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transport == nil {
		return nil, core.NewInvalidRequestError("session transport must not be nil")
	}
	if cfg.Microphone == nil {
		return nil, core.NewInvalidRequestError("session microphone must not be nil")
	}
	if cfg.Output == nil {
		return nil, core.NewInvalidRequestError("session output must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:        cfg,
		logger:     logger,
		transcript: NewAccumulator(),
		state:      StateConnecting,
		captureQ:   make(chan struct{}),
	}, nil
}

// Start runs the startup sequence: acquire microphone, build the playback
// scheduler, open the transport, then wire capture frames through the
// encoder to the transport's send capability. Sends issued before the
// transport reports open are queued by the Sender, so capture wiring does
// not wait for the open acknowledgment.
//
// ctx cancellation is checked after each suspension point; once observed,
// no further resource is acquired and whatever was acquired is released.
func (s *Session) Start(ctx context.Context) error {
	if err := s.cfg.Microphone.Open(ctx); err != nil {
		// Nothing acquired yet; surface and stop.
		err = core.NewAcquisitionError("microphone unavailable: " + err.Error())
		s.failStartup(err)
		return err
	}
	s.mu.Lock()
	s.micOpen = true
	s.mu.Unlock()

	if err := s.startupInterrupted(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.scheduler = NewScheduler(s.cfg.Output, s.cfg.Output)
	s.mu.Unlock()

	setup := protocol.NewClientSetup(s.cfg.Topic.Name, s.cfg.Topic.KeyPoints)
	sender, err := s.cfg.Transport.Connect(ctx, setup, Callbacks{
		OnOpen:    s.onOpen,
		OnMessage: s.onMessage,
		OnError:   s.onTransportError,
		OnClose:   s.onTransportClose,
	})
	if err != nil {
		err = core.NewTransportError("open tutor transport: " + err.Error())
		s.failStartup(err)
		s.Close()
		return err
	}

	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()

	if err := s.startupInterrupted(ctx); err != nil {
		return err
	}

	go s.captureLoop()
	return nil
}

// startupInterrupted handles the "caller went away while we were waiting"
// case: release everything acquired so far and stop the sequence. The
// returned error tells the caller startup did not complete, whether the
// interruption came from the context or from a concurrent Close.
func (s *Session) startupInterrupted(ctx context.Context) error {
	if ctx.Err() == nil && !s.cancelled.Load() {
		return nil
	}
	s.Close()
	if err := ctx.Err(); err != nil {
		return err
	}
	return core.NewInvalidRequestError("session closed before startup finished")
}

func (s *Session) failStartup(err error) {
	s.transcript.AppendStatus(err.Error())
	s.setState(StateError)
}

func (s *Session) captureLoop() {
	frames := s.cfg.Microphone.Frames()
	for {
		select {
		case <-s.captureQ:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.mu.Lock()
			sender := s.sender
			s.mu.Unlock()
			if sender == nil {
				return
			}
			if err := sender.SendAudio(EncodeFrame(frame)); err != nil {
				s.logger.Debug("dropping capture frame", "err", err)
				return
			}
		}
	}
}

func (s *Session) onOpen() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateConnected
	}
	s.mu.Unlock()
}

// onMessage routes one inbound frame. The transport invokes this from a
// single read loop, so transcript and scheduler updates stay in arrival
// order.
func (s *Session) onMessage(msg protocol.ServerMessage) {
	if msg.InputText != nil || msg.OutputText != nil || msg.TurnComplete {
		s.transcript.Apply(msg)
	}
	if msg.AudioB64 != "" {
		samples, err := DecodeChunk(msg.AudioB64)
		if err != nil {
			s.logger.Warn("dropping undecodable audio chunk", "err", err)
			return
		}
		s.scheduler.Schedule(samples)
	}
}

// onTransportError marks the session failed and tears it down. Error is a
// terminal state, so the microphone and playback queue are released here,
// not when the user eventually ends the session.
func (s *Session) onTransportError(err error) {
	s.transcript.AppendStatus("Session error: " + err.Error())
	s.setState(StateError)
	s.Close()
}

func (s *Session) onTransportClose() {
	s.mu.Lock()
	if s.state != StateError {
		s.state = StateDisconnected
	}
	s.mu.Unlock()
	s.Close()
}

// Close tears the session down: stop capture, close the transport if one
// was ever obtained, release the microphone, drop pending playback. Every
// step is skipped cleanly if its resource was never acquired, so Close is
// safe mid-startup and safe to invoke repeatedly (unmount racing an
// explicit end must not double-release).
func (s *Session) Close() error {
	s.cancelled.Store(true)
	s.closeOnce.Do(func() {
		close(s.captureQ)
	})

	// Each resource is released at most once, tracked per resource rather
	// than behind a single once: a Close that lands while Start is still
	// acquiring must not use up the teardown for resources acquired later
	// (Start re-invokes Close when it observes the cancellation).
	s.mu.Lock()
	sender := s.sender
	s.sender = nil
	micOpen := s.micOpen
	s.micOpen = false
	scheduler := s.scheduler
	if s.state == StateConnecting || s.state == StateConnected {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if sender != nil {
		_ = sender.Close()
	}
	if micOpen {
		if err := s.cfg.Microphone.Close(); err != nil {
			s.logger.Debug("microphone close", "err", err)
		}
	}
	if scheduler != nil {
		scheduler.Flush()
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Messages returns a copy of the visible transcript.
func (s *Session) Messages() []types.TranscriptMessage {
	return s.transcript.Messages()
}

// Speaking reports whether synthesized speech is currently playing.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	return scheduler != nil && scheduler.Speaking()
}
