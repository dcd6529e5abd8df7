package dialogue

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/domain/repositories"
	"github.com/hitaco/assistant/internal/metrics"
	"github.com/hitaco/assistant/usecase/music"
)

const (
	sessionSampleRate  = 24000
	sessionFrameLength = 1024
	rmsThreshold       = 100.0
	watchdogTick       = time.Second
)

// endPhrases terminate the conversation when any of them appears in a user
// transcript (case-insensitive substring match).
var endPhrases = []string{
	"goodbye", "bye", "see you later", "talk to you later",
	"that's all", "thanks", "thank you", "stop", "end conversation",
	"quit", "exit", "done", "finished",
}

// MusicControl is what the session needs from the music subsystem.
type MusicControl interface {
	IsMusicCommand(transcript string) bool
	Handle(ctx context.Context, transcript string) music.CommandResult
	PauseForConversation() bool
	ResumeAfterConversation() bool
	Playing() bool
}

// Config holds the session's tunables.
type Config struct {
	SilenceTimeout time.Duration
	GraceWindow    time.Duration
	Instructions   string
	Voice          string
	Greeting       string
}

// Session is one full-duplex conversation with the dialogue engine. Three
// loops run concurrently over the shared Conversation state: uplink forwards
// microphone frames, downlink dispatches engine events, and the watchdog
// enforces the silence policy. Start joins all three.
type Session struct {
	transport repositories.DialogueTransport
	device    repositories.AudioDevice
	musicCtl  MusicControl
	cfg       Config
	logger    *zap.Logger

	conv   *entities.Conversation
	claim  repositories.AudioClaim
	input  repositories.InputStream
	output repositories.OutputStream

	// autoPausedMusic is written in Start before the loops launch and read
	// only inside stopOnce; no lock needed.
	autoPausedMusic bool
	stopOnce        sync.Once
}

// NewSession creates a session in the Init state.
func NewSession(
	transport repositories.DialogueTransport,
	device repositories.AudioDevice,
	musicCtl MusicControl,
	cfg Config,
	logger *zap.Logger,
) *Session {
	conv := entities.NewConversation()
	return &Session{
		transport: transport,
		device:    device,
		musicCtl:  musicCtl,
		cfg:       cfg,
		logger:    logger.With(zap.String("conversationID", conv.ID)),
		conv:      conv,
	}
}

// Conversation exposes the session's state for observers.
func (s *Session) Conversation() *entities.Conversation {
	return s.conv
}

// Start opens the transport and audio streams, runs the three loops, and
// returns once all of them have exited and the session is Closed.
func (s *Session) Start(ctx context.Context) error {
	if s.musicCtl != nil && s.musicCtl.Playing() {
		if s.musicCtl.PauseForConversation() {
			s.autoPausedMusic = true
			s.logger.Info("Automatically paused music for conversation")
		}
	}

	sc := repositories.SessionConfig{
		Instructions:       s.cfg.Instructions,
		Voice:              s.cfg.Voice,
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
	}
	// Setup failures go through stop() so an auto-paused track is resumed
	// even when the session never reaches Streaming.
	if err := s.transport.Connect(ctx, sc); err != nil {
		s.stop()
		s.conv.Close()
		return err
	}

	claim, err := s.device.Acquire("dialogue")
	if err != nil {
		s.stop()
		s.conv.Close()
		return err
	}
	s.claim = claim

	input, err := claim.OpenInput(sessionSampleRate, sessionFrameLength)
	if err != nil {
		s.stop()
		s.conv.Close()
		return err
	}
	s.input = input

	// The output stream opens alongside the input: full duplex within the
	// session is what makes barge-in possible.
	output, err := claim.OpenOutput(sessionSampleRate)
	if err != nil {
		s.stop()
		s.conv.Close()
		return err
	}
	s.output = output

	s.conv.BeginStreaming()
	s.logger.Info("Conversation streaming")

	if s.cfg.Greeting != "" {
		if err := s.transport.SendText(s.cfg.Greeting); err != nil {
			s.logger.Warn("Failed to send greeting", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.uplink() }()
	go func() { defer wg.Done(); s.downlink(ctx) }()
	go func() { defer wg.Done(); s.watchdog() }()
	wg.Wait()

	s.stop()
	if s.conv.Close() {
		reason := s.conv.EndReason()
		metrics.SessionEnds.WithLabelValues(string(reason)).Inc()
		s.logger.Info("Conversation closed", zap.String("reason", string(reason)))
	}
	return nil
}

// Shutdown ends the session from outside its loops (overall timeout or
// process shutdown). Safe to call at any time.
func (s *Session) Shutdown(reason entities.EndReason) {
	s.conv.RequestEnd(reason)
	s.stop()
}

// uplink forwards microphone frames to the transport. The microphone is
// never muted while the assistant speaks; that is what lets the engine hear
// an interruption. Loud frames refresh the activity clock.
func (s *Session) uplink() {
	for !s.conv.ShouldEnd() {
		frame, err := s.input.ReadFrame()
		if err != nil {
			if s.conv.ShouldEnd() {
				return
			}
			s.logger.Error("Microphone read failed", zap.Error(err))
			s.conv.RequestEnd(entities.EndReasonShutdown)
			s.stop()
			return
		}

		if frameRMS(frame) > rmsThreshold {
			s.conv.Touch()
		}

		if err := s.transport.SendAudio(pcmBytes(frame)); err != nil {
			if s.conv.ShouldEnd() {
				return
			}
			s.logger.Error("Failed to forward audio frame", zap.Error(err))
			s.conv.RequestEnd(entities.EndReasonShutdown)
			s.stop()
			return
		}
	}
}

// downlink receives transport events and dispatches them.
func (s *Session) downlink(ctx context.Context) {
	var turnText strings.Builder

	for !s.conv.ShouldEnd() {
		event, err := s.transport.Receive()
		if err != nil {
			if s.conv.ShouldEnd() {
				return
			}
			s.logger.Error("Transport receive failed", zap.Error(err))
			s.conv.RequestEnd(entities.EndReasonShutdown)
			s.stop()
			return
		}
		if event == nil {
			continue
		}

		switch ev := event.(type) {
		case repositories.TranscriptEvent:
			if s.handleTranscript(ctx, ev.Transcript) {
				return
			}

		case repositories.AudioDeltaEvent:
			s.conv.SetAssistantSpeaking(true)
			if err := s.output.Write(ev.PCM); err != nil {
				s.logger.Error("Failed to play assistant audio", zap.Error(err))
			}

		case repositories.TextDeltaEvent:
			s.conv.SetAssistantSpeaking(true)
			turnText.WriteString(ev.Text)

		case repositories.TurnCompleteEvent:
			if turnText.Len() > 0 {
				s.logger.Info("Assistant turn", zap.String("text", turnText.String()))
				turnText.Reset()
			}
			s.conv.MarkTurnComplete()

		case repositories.SpeechStartedEvent:
			if s.conv.AssistantSpeaking() {
				// Barge-in: the engine's own turn-taking truncates the
				// stale response; uplink is already running.
				s.conv.SetAssistantSpeaking(false)
				metrics.BargeIns.Inc()
				s.logger.Info("Barge-in detected, user interrupted assistant")
			}

		case repositories.ErrorEvent:
			s.logger.Error("Transport error event",
				zap.String("code", ev.Code),
				zap.String("message", ev.Message))
		}
	}
}

// handleTranscript classifies one user utterance. Returns true when the
// downlink loop should exit.
func (s *Session) handleTranscript(ctx context.Context, transcript string) bool {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return false
	}
	s.logger.Info("User transcript", zap.String("text", transcript))

	if s.musicCtl != nil && s.musicCtl.IsMusicCommand(transcript) {
		result := s.musicCtl.Handle(ctx, transcript)
		s.logger.Info("Music command handled",
			zap.String("action", result.Action),
			zap.Bool("success", result.Success),
			zap.String("response", result.Response))

		// Music starting means the conversation yields the device.
		if result.Action == "play" && result.Success {
			s.conv.RequestEnd(entities.EndReasonMusic)
			s.stop()
			return true
		}
		return false
	}

	if matchesEndPhrase(transcript) {
		s.conv.RequestEnd(entities.EndReasonUserPhrase)
		s.stop()
		return true
	}
	return false
}

// watchdog ends the session after prolonged silence. Right after the
// assistant finishes a turn, the timeout stretches by the grace window so
// the user has room to start responding.
func (s *Session) watchdog() {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	for range ticker.C {
		if s.conv.ShouldEnd() {
			return
		}

		now := time.Now()
		silence := now.Sub(s.conv.LastActivity())
		if silence > s.effectiveTimeout(now) {
			s.logger.Info("Silence timeout reached, ending conversation",
				zap.Duration("silence", silence))
			s.conv.RequestEnd(entities.EndReasonSilence)
			s.stop()
			return
		}
	}
}

// effectiveTimeout is the base silence timeout, extended by the grace window
// while we are within that window of the assistant's last turn completion.
func (s *Session) effectiveTimeout(now time.Time) time.Duration {
	timeout := s.cfg.SilenceTimeout
	if fin := s.conv.AssistantFinishedAt(); !fin.IsZero() && now.Sub(fin) < s.cfg.GraceWindow {
		timeout += s.cfg.GraceWindow
	}
	return timeout
}

// stop tears the session down: audio streams, device claim, transport, and
// the music auto-resume. Every step runs even if an earlier one fails, and
// the whole thing runs at most once however many loops race into it.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.conv.BeginEnding()
		s.releaseEverything()

		if s.autoPausedMusic && s.musicCtl != nil {
			if s.musicCtl.ResumeAfterConversation() {
				s.logger.Info("Automatically resumed music after conversation")
			}
		}
		s.logger.Info("Conversation stopped")
	})
}

func (s *Session) releaseEverything() {
	if s.input != nil {
		if err := s.input.Close(); err != nil {
			s.logger.Warn("Failed to close input stream", zap.Error(err))
		}
	}
	if s.output != nil {
		if err := s.output.Close(); err != nil {
			s.logger.Warn("Failed to close output stream", zap.Error(err))
		}
	}
	if s.claim != nil {
		if err := s.claim.Release(); err != nil {
			s.logger.Warn("Failed to release audio device", zap.Error(err))
		}
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("Failed to close transport", zap.Error(err))
	}
}

func matchesEndPhrase(transcript string) bool {
	text := strings.ToLower(strings.TrimSpace(transcript))
	for _, phrase := range endPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// frameRMS is the root-mean-square volume of one PCM16 frame.
func frameRMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range frame {
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// pcmBytes flattens a PCM16 frame to little-endian bytes for the wire.
func pcmBytes(frame []int16) []byte {
	out := make([]byte, len(frame)*2)
	for i, sample := range frame {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(uint16(sample) >> 8)
	}
	return out
}
