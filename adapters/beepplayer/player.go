package beepplayer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/repositories"
)

const mixerSampleRate = beep.SampleRate(44100)

// Player implements playback of cached tracks and chimes on the speaker
// mixer. The mixer is initialized once at a fixed rate; sources at other
// rates are resampled.
type Player struct {
	logger *zap.Logger
	once   sync.Once
}

var _ repositories.Player = (*Player)(nil)

// NewPlayer creates a player. The speaker is initialized lazily on first use.
func NewPlayer(logger *zap.Logger) *Player {
	return &Player{logger: logger}
}

func (p *Player) init() error {
	var err error
	p.once.Do(func() {
		err = speaker.Init(mixerSampleRate, mixerSampleRate.N(100*time.Millisecond))
	})
	if err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	return nil
}

func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		s, format, err := wav.Decode(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, fmt.Errorf("failed to decode wav: %w", err)
		}
		return s, format, nil
	default:
		s, format, err := mp3.Decode(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, fmt.Errorf("failed to decode mp3: %w", err)
		}
		return s, format, nil
	}
}

// Play starts playback of an audio file and returns a control handle.
func (p *Player) Play(path string) (repositories.PlaybackHandle, error) {
	if err := p.init(); err != nil {
		return nil, err
	}

	streamer, format, err := decode(path)
	if err != nil {
		return nil, err
	}

	h := &handle{streamer: streamer, done: make(chan struct{})}
	var source beep.Streamer = beep.Seq(streamer, beep.Callback(h.finish))
	if format.SampleRate != mixerSampleRate {
		source = beep.Resample(4, format.SampleRate, mixerSampleRate, source)
	}
	h.ctrl = &beep.Ctrl{Streamer: source}

	speaker.Play(h.ctrl)
	p.logger.Debug("Playback started", zap.String("path", path))
	return h, nil
}

// PlayClip plays a short sound file to completion.
func (p *Player) PlayClip(path string) error {
	h, err := p.Play(path)
	if err != nil {
		return err
	}
	<-h.Done()
	return nil
}

type handle struct {
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser

	mu       sync.Mutex
	finished bool
	done     chan struct{}
}

var _ repositories.PlaybackHandle = (*handle)(nil)

func (h *handle) Pause() {
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
}

func (h *handle) Resume() {
	speaker.Lock()
	h.ctrl.Paused = false
	speaker.Unlock()
}

// Stop detaches the stream from the mixer and closes the decoder.
func (h *handle) Stop() {
	speaker.Lock()
	h.ctrl.Streamer = nil
	h.ctrl.Paused = false
	speaker.Unlock()
	h.finish()
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	h.streamer.Close()
	close(h.done)
}
