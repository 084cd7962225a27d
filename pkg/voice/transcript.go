package voice

import (
	"strconv"
	"strings"
	"sync"

	"github.com/kareemblessed/CrammAI/pkg/core/types"
	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

// Accumulator reconstructs coherent per-turn messages from streaming
// transcript fragments. It keeps one in-progress buffer per direction and
// reconciles the visible transcript on every fragment: the most recent
// message of the matching role is replaced in place while its turn is open;
// otherwise a new message is appended. Older messages are never touched.
type Accumulator struct {
	mu       sync.Mutex
	input    strings.Builder
	output   strings.Builder
	messages []types.TranscriptMessage
	nextID   int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds one inbound frame into the transcript. When a frame carries
// both fragments they are applied input-then-output. A turn-complete flag
// prunes a trailing empty user message (a turn where the user said nothing
// must not leave an empty bubble) and resets both buffers, regardless of
// whether audio for the turn is still playing.
func (a *Accumulator) Apply(msg protocol.ServerMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.InputText != nil {
		a.input.WriteString(*msg.InputText)
		a.reconcile(types.RoleUser, a.input.String())
	}
	if msg.OutputText != nil {
		a.output.WriteString(*msg.OutputText)
		a.reconcile(types.RoleModel, a.output.String())
	}
	if msg.TurnComplete {
		if strings.TrimSpace(a.input.String()) == "" {
			a.pruneTrailingEmpty(types.RoleUser)
		}
		a.input.Reset()
		a.output.Reset()
	}
}

func (a *Accumulator) reconcile(role types.Role, text string) {
	if n := len(a.messages); n > 0 && a.messages[n-1].Role == role {
		a.messages[n-1].Text = text
		return
	}
	a.appendLocked(role, text)
}

func (a *Accumulator) pruneTrailingEmpty(role types.Role) {
	n := len(a.messages)
	if n == 0 {
		return
	}
	if last := a.messages[n-1]; last.Role == role && last.Empty() {
		a.messages = a.messages[:n-1]
	}
}

// AppendStatus appends a status entry (connection notices, errors).
func (a *Accumulator) AppendStatus(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appendLocked(types.RoleStatus, text)
}

func (a *Accumulator) appendLocked(role types.Role, text string) {
	a.nextID++
	a.messages = append(a.messages, types.TranscriptMessage{
		ID:   "msg-" + strconv.Itoa(a.nextID),
		Role: role,
		Text: text,
	})
}

// Messages returns a copy of the visible transcript.
func (a *Accumulator) Messages() []types.TranscriptMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.TranscriptMessage, len(a.messages))
	copy(out, a.messages)
	return out
}
