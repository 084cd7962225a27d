package voice

import (
	"encoding/base64"
	"math"
	"sync"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

// EncodeFrame converts one captured microphone frame (mono float32 samples
// in [-1, 1] at protocol.InputSampleRateHz) into an outbound audio frame:
// each sample scaled by 32768, clamped to the int16 range, serialized
// little-endian, then base64-encoded. Clamping (rather than wraparound) is
// the documented choice for out-of-range input samples.
//
// Encoding is synchronous and O(len(samples)); it is safe to call from a
// capture callback.
func EncodeFrame(samples []float32) protocol.ClientAudioFrame {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		v := math.Round(float64(sample) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		s := int16(v)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return protocol.ClientAudioFrame{
		Type:     "audio_frame",
		MIMEType: protocol.InputMIMEType,
		DataB64:  base64.StdEncoding.EncodeToString(pcm),
	}
}

// DecodeChunk converts an inbound base64 payload (little-endian int16 PCM at
// protocol.OutputSampleRateHz, mono) into float32 samples in [-1, 1].
func DecodeChunk(b64 string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, core.NewTransportError("decode inbound audio: " + err.Error())
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}

// Clock reports the playback output clock in seconds. The zero point is
// arbitrary; only monotonic advancement matters.
type Clock interface {
	Now() float64
}

// Player renders one buffer of mono float32 samples starting at the given
// clock time, invoking done exactly once when the buffer finishes playing.
type Player interface {
	Play(samples []float32, sampleRateHz int, start float64, done func())
}

// Scheduler sequences inbound speech buffers for gapless playback.
//
// It keeps a monotonically advancing next-start cursor seeded at 0: each
// buffer is scheduled at max(clock now, cursor) and the cursor then advances
// by the buffer's duration. Chunks that arrive after their nominal start
// simply start late and shift every subsequent chunk later; there is no
// underrun handling, which is accepted behavior.
type Scheduler struct {
	clock  Clock
	player Player

	mu        sync.Mutex
	nextStart float64
	nextID    int64
	pending   []int64
}

// NewScheduler creates a scheduler over the given output clock and player.
func NewScheduler(clock Clock, player Player) *Scheduler {
	return &Scheduler{clock: clock, player: player}
}

// Schedule enqueues one decoded buffer and returns its start time.
func (s *Scheduler) Schedule(samples []float32) float64 {
	s.mu.Lock()
	start := s.clock.Now()
	if s.nextStart > start {
		start = s.nextStart
	}
	duration := float64(len(samples)) / float64(protocol.OutputSampleRateHz)
	s.nextStart = start + duration
	s.nextID++
	id := s.nextID
	s.pending = append(s.pending, id)
	s.mu.Unlock()

	s.player.Play(samples, protocol.OutputSampleRateHz, start, func() {
		s.finish(id)
	})
	return start
}

func (s *Scheduler) finish(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pending := range s.pending {
		if pending == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Speaking reports whether any scheduled buffer has not finished playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Flush drops pending-queue bookkeeping. Buffers already handed to the
// player are not recalled; completion callbacks arriving afterwards are
// no-ops.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}
