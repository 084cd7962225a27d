package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

func TestSendAudioQueuesBeforeReady(t *testing.T) {
	s := &wsSession{}
	frame := EncodeFrame([]float32{0.5})
	if err := s.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio() before ready = %v, want queued", err)
	}
	s.mu.Lock()
	queued := len(s.pending)
	s.mu.Unlock()
	if queued != 1 {
		t.Fatalf("pending = %d, want 1", queued)
	}
}

func TestSendAudioAfterFailure(t *testing.T) {
	s := &wsSession{}
	s.fail(nil)
	if err := s.SendAudio(protocol.ClientAudioFrame{}); err == nil {
		t.Fatalf("SendAudio() after failure should error")
	}
	s.mu.Lock()
	queued := len(s.pending)
	s.mu.Unlock()
	if queued != 0 {
		t.Fatalf("pending = %d after failure, want 0", queued)
	}
}

func TestCloseBeforeDialCompletes(t *testing.T) {
	var closed int
	s := &wsSession{cb: Callbacks{OnClose: func() { closed++ }}}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if closed != 1 {
		t.Fatalf("OnClose fired %d times, want 1", closed)
	}
}

func TestWebsocketTransportSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotSetup := make(chan protocol.ClientSetup, 1)
	gotAudio := make(chan protocol.ClientAudioFrame, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var setup protocol.ClientSetup
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		gotSetup <- setup

		var frame protocol.ClientAudioFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Errorf("read audio frame: %v", err)
			return
		}
		gotAudio <- frame

		reply := `{"type":"server_content","output_transcription":"hello","turn_complete":true}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	defer server.Close()

	opened := make(chan struct{})
	received := make(chan protocol.ServerMessage, 4)
	closedCh := make(chan struct{})
	var once sync.Once

	transport := &WebsocketTransport{URL: "ws" + strings.TrimPrefix(server.URL, "http")}
	sender, err := transport.Connect(context.Background(), protocol.NewClientSetup("Cell Biology", nil), Callbacks{
		OnOpen:    func() { close(opened) },
		OnMessage: func(msg protocol.ServerMessage) { received <- msg },
		OnClose:   func() { once.Do(func() { close(closedCh) }) },
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sender.Close()

	// The send capability is usable before the open acknowledgment: this
	// frame is queued or written depending on dial timing, and must reach
	// the peer either way.
	if err := sender.SendAudio(EncodeFrame([]float32{0.1, 0.2})); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnOpen never fired")
	}
	select {
	case setup := <-gotSetup:
		if setup.Type != "setup" || setup.Topic != "Cell Biology" {
			t.Fatalf("setup = %+v", setup)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received setup")
	}
	select {
	case frame := <-gotAudio:
		if frame.MIMEType != protocol.InputMIMEType {
			t.Fatalf("frame MIME = %q", frame.MIMEType)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the queued audio frame")
	}
	select {
	case msg := <-received:
		if msg.OutputText == nil || *msg.OutputText != "hello" || !msg.TurnComplete {
			t.Fatalf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnMessage never fired")
	}
	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnClose never fired")
	}
}
