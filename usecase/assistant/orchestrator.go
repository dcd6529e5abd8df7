package assistant

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/domain/repositories"
	"github.com/hitaco/assistant/internal/metrics"
	"github.com/hitaco/assistant/usecase/dialogue"
)

// State is what the orchestrator is doing right now.
type State string

const (
	StateListening State = "listening"
	StateTalking   State = "talking"
	StateStopped   State = "stopped"
)

const (
	maxListenFailures = 5
	listenRetryDelay  = 100 * time.Millisecond
)

// SessionFactory builds one dialogue session per wake event. Transports are
// single-use, so each conversation gets a fresh session.
type SessionFactory func() *dialogue.Session

// Config holds the orchestrator's tunables.
type Config struct {
	OverallTimeout time.Duration
	AckSound       string
	ByeSound       string
}

// Orchestrator runs the assistant's top-level loop: wait for the wake word,
// hand the audio device to a conversation, play the bookend chimes, and go
// back to listening. Exactly one of wake listening, conversation, or music
// owns the device at any moment.
type Orchestrator struct {
	detector   repositories.WakeWordDetector
	player     repositories.Player
	musicCtl   dialogue.MusicControl
	newSession SessionFactory
	cfg        Config
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	session *dialogue.Session
}

// NewOrchestrator creates the top-level loop.
func NewOrchestrator(
	detector repositories.WakeWordDetector,
	player repositories.Player,
	musicCtl dialogue.MusicControl,
	newSession SessionFactory,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		detector:   detector,
		player:     player,
		musicCtl:   musicCtl,
		newSession: newSession,
		cfg:        cfg,
		state:      StateStopped,
		logger:     logger,
	}
}

// State reports the current top-level state for the control API.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveConversation returns the conversation in progress, if any.
func (o *Orchestrator) ActiveConversation() *entities.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return o.session.Conversation()
}

// Run drives the wake/converse loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.setState(StateStopped, nil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		keyword, err := o.listen(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			o.logger.Error("Wake word listening failed", zap.Error(err))
			return err
		}

		metrics.WakeWordDetections.Inc()
		o.logger.Info("Wake word detected", zap.String("keyword", keyword))

		o.playChime(o.cfg.AckSound)
		o.converse(ctx)

		// Skip the goodbye chime when the conversation handed the
		// device straight to music.
		if o.musicCtl == nil || !o.musicCtl.Playing() {
			o.playChime(o.cfg.ByeSound)
		}
	}
}

// listen holds the device for wake word detection until a detection or
// cancellation. The detector releases the device before returning a hit.
// Transient poll failures restart the listener; only a run of consecutive
// failures gives up.
func (o *Orchestrator) listen(ctx context.Context) (string, error) {
	o.setState(StateListening, nil)
	o.logger.Info("Listening for wake word")

	if err := o.detector.Start(); err != nil {
		return "", err
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			o.stopDetector()
			return "", err
		}

		keyword, detected, err := o.detector.Poll()
		if err != nil {
			o.stopDetector()
			failures++
			if failures > maxListenFailures {
				return "", err
			}
			o.logger.Warn("Wake word poll failed, restarting listener",
				zap.Int("attempt", failures), zap.Error(err))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(listenRetryDelay):
			}
			if err := o.detector.Start(); err != nil {
				return "", err
			}
			continue
		}
		failures = 0
		if detected {
			return keyword, nil
		}
	}
}

func (o *Orchestrator) stopDetector() {
	if err := o.detector.Stop(); err != nil {
		o.logger.Warn("Failed to stop wake word detector", zap.Error(err))
	}
}

// converse runs one dialogue session, force-stopping it at the overall
// deadline. Session failures end the conversation, not the assistant.
func (o *Orchestrator) converse(ctx context.Context) {
	session := o.newSession()
	o.setState(StateTalking, session)
	defer o.setState(StateListening, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Start(ctx); err != nil {
			o.logger.Error("Conversation failed", zap.Error(err))
		}
	}()

	var deadline <-chan time.Time
	if o.cfg.OverallTimeout > 0 {
		timer := time.NewTimer(o.cfg.OverallTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
	case <-deadline:
		o.logger.Info("Conversation deadline reached, forcing stop",
			zap.Duration("timeout", o.cfg.OverallTimeout))
		session.Shutdown(entities.EndReasonDeadline)
		<-done
	case <-ctx.Done():
		session.Shutdown(entities.EndReasonShutdown)
		<-done
	}
}

// playChime plays a short clip start to finish. A missing or broken sound
// file costs a log line, never the loop.
func (o *Orchestrator) playChime(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		o.logger.Warn("Chime file not found", zap.String("path", path))
		return
	}
	if err := o.player.PlayClip(path); err != nil {
		o.logger.Warn("Failed to play chime", zap.String("path", path), zap.Error(err))
	}
}

func (o *Orchestrator) setState(state State, session *dialogue.Session) {
	o.mu.Lock()
	o.state = state
	o.session = session
	o.mu.Unlock()
}
