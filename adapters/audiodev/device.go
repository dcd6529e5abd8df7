package audiodev

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/repositories"
)

const outputBufferFrames = 1024

// Device is the machine's PortAudio-backed microphone/speaker pair. It hands
// out at most one claim at a time; holding the claim is the right to open
// streams.
type Device struct {
	logger *zap.Logger

	mu    sync.Mutex
	owner string
}

var _ repositories.AudioDevice = (*Device)(nil)

// NewDevice initializes PortAudio. Callers must Terminate when done.
func NewDevice(logger *zap.Logger) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio subsystem: %w", err)
	}
	return &Device{logger: logger}, nil
}

// Acquire claims the device for owner. Fails while another claim is held.
func (d *Device) Acquire(owner string) (repositories.AudioClaim, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != "" {
		return nil, fmt.Errorf("audio device is held by %q", d.owner)
	}
	d.owner = owner
	d.logger.Debug("Audio device acquired", zap.String("owner", owner))
	return &claim{device: d, owner: owner}, nil
}

// Terminate shuts PortAudio down.
func (d *Device) Terminate() error {
	return portaudio.Terminate()
}

func (d *Device) release(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner == owner {
		d.owner = ""
		d.logger.Debug("Audio device released", zap.String("owner", owner))
	}
}

type claim struct {
	device *Device
	owner  string

	mu      sync.Mutex
	streams []interface{ Close() error }
}

func (c *claim) OpenInput(sampleRate, frameLength int) (repositories.InputStream, error) {
	buf := make([]int16, frameLength)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameLength, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	in := &inputStream{stream: stream, buf: buf}
	c.track(in)
	return in, nil
}

func (c *claim) OpenOutput(sampleRate int) (repositories.OutputStream, error) {
	buf := make([]int16, outputBufferFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), outputBufferFrames, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	out := &outputStream{stream: stream, buf: buf}
	c.track(out)
	return out, nil
}

func (c *claim) Release() error {
	c.mu.Lock()
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.device.release(c.owner)
	return firstErr
}

func (c *claim) track(s interface{ Close() error }) {
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
}

type inputStream struct {
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// ReadFrame blocks until one full frame has been captured. Input overflow is
// routine under load and leaves the frame usable, so it is not an error.
func (s *inputStream) ReadFrame() ([]int16, error) {
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return nil, fmt.Errorf("failed to read capture frame: %w", err)
	}
	frame := make([]int16, len(s.buf))
	copy(frame, s.buf)
	return frame, nil
}

func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Stop()
	return s.stream.Close()
}

type outputStream struct {
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// Write plays raw little-endian PCM16 bytes. The tail of the final buffer is
// zero-padded.
func (s *outputStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("output stream is closed")
	}

	samples := len(pcm) / 2
	for offset := 0; offset < samples; offset += len(s.buf) {
		n := 0
		for i := range s.buf {
			if offset+i < samples {
				s.buf[i] = int16(binary.LittleEndian.Uint16(pcm[(offset+i)*2:]))
				n++
			} else {
				s.buf[i] = 0
			}
		}
		if n == 0 {
			break
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("failed to write playback frame: %w", err)
		}
	}
	return nil
}

func (s *outputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Stop()
	return s.stream.Close()
}
