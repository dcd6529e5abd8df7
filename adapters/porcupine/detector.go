package porcupine

import (
	"fmt"
	"os"

	pv "github.com/Picovoice/porcupine/binding/go/v3"
	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/repositories"
)

// Config holds configuration for the wake word detector.
// Required fields:
// - AccessKey: Picovoice access key
// - KeywordPath: path to the .ppn keyword model
// Optional fields with defaults:
// - Keyword: display name of the keyword (default: "wake word")
// - Sensitivity: 0.0 to 1.0 (default: 0.6)
type Config struct {
	AccessKey   string
	KeywordPath string
	Keyword     string
	Sensitivity float32
}

// Detector implements WakeWordDetector on the Porcupine engine. It owns an
// audio device claim while listening.
type Detector struct {
	engine  pv.Porcupine
	keyword string
	device  repositories.AudioDevice
	logger  *zap.Logger

	claim repositories.AudioClaim
	input repositories.InputStream
}

var _ repositories.WakeWordDetector = (*Detector)(nil)

// NewDetector initializes the Porcupine engine. A missing access key or
// keyword model is fatal and surfaced to the caller.
func NewDetector(cfg Config, device repositories.AudioDevice, logger *zap.Logger) (*Detector, error) {
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("porcupine access key is required, get one from https://console.picovoice.ai/")
	}
	if _, err := os.Stat(cfg.KeywordPath); err != nil {
		return nil, fmt.Errorf("keyword model not found at %s: %w", cfg.KeywordPath, err)
	}
	if cfg.Keyword == "" {
		cfg.Keyword = "wake word"
	}
	if cfg.Sensitivity == 0 {
		cfg.Sensitivity = 0.6
	}

	engine := pv.Porcupine{
		AccessKey:     cfg.AccessKey,
		KeywordPaths:  []string{cfg.KeywordPath},
		Sensitivities: []float32{cfg.Sensitivity},
	}
	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("porcupine initialization failed: %w", err)
	}

	logger.Info("Wake word detector initialized",
		zap.String("keyword", cfg.Keyword),
		zap.Int("sampleRate", pv.SampleRate),
		zap.Int("frameLength", pv.FrameLength))

	return &Detector{
		engine:  engine,
		keyword: cfg.Keyword,
		device:  device,
		logger:  logger,
	}, nil
}

// Start acquires the audio device and opens the capture stream.
func (d *Detector) Start() error {
	if d.input != nil {
		return nil
	}

	claim, err := d.device.Acquire("wake-word")
	if err != nil {
		return fmt.Errorf("failed to acquire audio device for listening: %w", err)
	}
	input, err := claim.OpenInput(pv.SampleRate, pv.FrameLength)
	if err != nil {
		claim.Release()
		return fmt.Errorf("failed to open capture stream: %w", err)
	}

	d.claim = claim
	d.input = input
	d.logger.Info("Started wake word detection", zap.String("keyword", d.keyword))
	return nil
}

// Poll reads one frame and runs it through the engine. Detection stops
// listening before returning.
func (d *Detector) Poll() (string, bool, error) {
	if d.input == nil {
		if err := d.Start(); err != nil {
			return "", false, err
		}
	}

	frame, err := d.input.ReadFrame()
	if err != nil {
		return "", false, fmt.Errorf("failed to read audio frame: %w", err)
	}

	index, err := d.engine.Process(frame)
	if err != nil {
		return "", false, fmt.Errorf("porcupine detection failed: %w", err)
	}
	if index < 0 {
		return "", false, nil
	}

	d.logger.Info("Wake word detected", zap.String("keyword", d.keyword))
	if err := d.Stop(); err != nil {
		d.logger.Warn("Failed to stop listening after detection", zap.Error(err))
	}
	return d.keyword, true, nil
}

// Stop releases the capture stream and the device claim.
func (d *Detector) Stop() error {
	if d.input == nil {
		return nil
	}
	err := d.input.Close()
	if relErr := d.claim.Release(); err == nil {
		err = relErr
	}
	d.input = nil
	d.claim = nil
	d.logger.Info("Stopped wake word detection")
	return err
}

// Delete releases the Porcupine engine. The detector is unusable afterwards.
func (d *Detector) Delete() {
	d.Stop()
	d.engine.Delete()
}
