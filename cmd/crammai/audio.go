package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/voice"
	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

// micFrameSamples is 20ms of input audio.
const micFrameSamples = protocol.InputSampleRateHz / 50

// ffplayOutput implements voice.Output on top of an ffplay child process
// reading raw pcm_s16le from stdin. The clock is wall time since creation;
// scheduled buffers are held back until their start time so the session's
// gapless scheduling carries through to the speaker.
type ffplayOutput struct {
	path    string
	volume  int
	started time.Time

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFPlayOutput(path string, volume int) *ffplayOutput {
	if path == "" {
		path = "ffplay"
	}
	if volume <= 0 {
		volume = 80
	}
	return &ffplayOutput{path: path, volume: volume, started: time.Now()}
}

func (o *ffplayOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-volume", fmt.Sprintf("%d", o.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", protocol.OutputSampleRateHz),
		"-i", "-",
	}
	cmd := exec.Command(o.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL sometimes picks a silent backend on macOS.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return err
	}
	o.cmd = cmd
	o.stdin = stdin
	return nil
}

func (o *ffplayOutput) Now() float64 {
	return time.Since(o.started).Seconds()
}

func (o *ffplayOutput) Play(samples []float32, sampleRateHz int, start float64, done func()) {
	go func() {
		if wait := start - o.Now(); wait > 0 {
			time.Sleep(time.Duration(wait * float64(time.Second)))
		}
		o.write(pcm16Bytes(samples))
		time.Sleep(time.Duration(float64(len(samples)) / float64(sampleRateHz) * float64(time.Second)))
		done()
	}()
}

func (o *ffplayOutput) write(p []byte) {
	o.mu.Lock()
	stdin := o.stdin
	o.mu.Unlock()
	if stdin == nil {
		return
	}
	if _, err := stdin.Write(p); err != nil {
		fmt.Fprintf(os.Stderr, "speaker write: %v\n", err)
	}
}

func (o *ffplayOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stdin != nil {
		o.stdin.Close()
		o.stdin = nil
	}
	if o.cmd != nil && o.cmd.Process != nil {
		o.cmd.Process.Kill()
		o.cmd.Wait()
		o.cmd = nil
	}
	return nil
}

func pcm16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// execMicrophone implements voice.Microphone by running a capture command
// that writes raw pcm_s16le mono at the input rate to stdout. By default it
// runs ffmpeg against the platform capture device; -mic-cmd overrides the
// whole command line.
type execMicrophone struct {
	override string
	device   int

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames chan []float32
}

func newExecMicrophone(override string, device int) *execMicrophone {
	return &execMicrophone{override: override, device: device}
}

func (m *execMicrophone) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.NewAcquisitionError(err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return core.NewAcquisitionError("microphone already open")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	var cmd *exec.Cmd
	if m.override != "" {
		cmd = exec.CommandContext(runCtx, "/bin/sh", "-lc", m.override)
	} else {
		cmd = exec.CommandContext(runCtx, "ffmpeg", m.captureArgs()...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return core.NewAcquisitionError(err.Error())
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		cancel()
		return core.NewAcquisitionError(fmt.Sprintf("start capture: %v", err))
	}

	m.cmd = cmd
	m.cancel = cancel
	m.frames = make(chan []float32, 8)
	go m.readLoop(runCtx, stdout)
	return nil
}

func (m *execMicrophone) captureArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch runtime.GOOS {
	case "darwin":
		// `none:<index>` keeps ffmpeg away from the camera.
		args = append(args, "-f", "avfoundation", "-i", fmt.Sprintf("none:%d", m.device))
	default:
		args = append(args, "-f", "alsa", "-i", "default")
	}
	return append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", protocol.InputSampleRateHz),
		"-f", "s16le",
		"-",
	)
}

func (m *execMicrophone) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(m.frames)
	reader := bufio.NewReaderSize(stdout, 64*1024)
	raw := make([]byte, micFrameSamples*2)
	for {
		if _, err := io.ReadFull(reader, raw); err != nil {
			return
		}
		frame := make([]float32, micFrameSamples)
		for i := range frame {
			frame[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
		}
		select {
		case m.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (m *execMicrophone) Frames() <-chan []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

func (m *execMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil {
		return nil
	}
	m.cancel()
	m.cmd.Wait()
	m.cmd = nil
	m.cancel = nil
	return nil
}

var _ voice.Output = (*ffplayOutput)(nil)
var _ voice.Microphone = (*execMicrophone)(nil)
