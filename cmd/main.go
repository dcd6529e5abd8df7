package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hitaco/assistant/adapters/audiodev"
	"github.com/hitaco/assistant/adapters/beepplayer"
	"github.com/hitaco/assistant/adapters/porcupine"
	"github.com/hitaco/assistant/adapters/realtime"
	"github.com/hitaco/assistant/adapters/ytmusic"
	"github.com/hitaco/assistant/config"
	"github.com/hitaco/assistant/internal/api"
	"github.com/hitaco/assistant/internal/auth"
	"github.com/hitaco/assistant/usecase/assistant"
	"github.com/hitaco/assistant/usecase/dialogue"
	"github.com/hitaco/assistant/usecase/music"
)

const instructions = "You are a friendly voice assistant for the home. " +
	"Keep answers short and conversational; you are heard, not read. " +
	"When the user asks for music, acknowledge briefly and let the player take over."

const greeting = "Hi! How can I help you?"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	auth.Configure(cfg.Server.JWTSecret)

	// Audio device and its consumers.
	device, err := audiodev.NewDevice(logger)
	if err != nil {
		logger.Fatal("Failed to initialize audio device", zap.Error(err))
	}
	defer device.Terminate()

	detector, err := porcupine.NewDetector(porcupine.Config{
		AccessKey:   cfg.WakeWord.AccessKey,
		KeywordPath: cfg.WakeWord.KeywordPath,
		Keyword:     cfg.WakeWord.Keyword,
		Sensitivity: cfg.WakeWord.Sensitivity,
	}, device, logger)
	if err != nil {
		logger.Fatal("Failed to initialize wake word detector", zap.Error(err))
	}
	defer detector.Delete()

	player := beepplayer.NewPlayer(logger)

	// Music subsystem.
	cache, err := music.NewCache(cfg.Music.CacheDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize music cache", zap.Error(err))
	}
	catalog := ytmusic.NewCatalog(ytmusic.Config{YtdlpPath: cfg.Music.YtdlpPath}, logger)
	extractor := ytmusic.NewExtractor(ytmusic.Config{
		YtdlpPath:  cfg.Music.YtdlpPath,
		FfmpegPath: cfg.Music.FfmpegPath,
	}, logger)
	engine := music.NewEngine(catalog, extractor, player, cache, music.EngineConfig{
		SearchLimit:  cfg.Music.SearchLimit,
		DownloadWait: cfg.Music.DownloadWait,
	}, logger)
	musicHandler := music.NewHandler(engine, logger)

	// One transport and session per conversation.
	newSession := func() *dialogue.Session {
		transport, err := realtime.NewClient(realtime.Config{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.RealtimeModel,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create realtime transport", zap.Error(err))
		}
		return dialogue.NewSession(transport, device, musicHandler, dialogue.Config{
			SilenceTimeout: cfg.Conversation.SilenceTimeout,
			GraceWindow:    cfg.Conversation.GraceWindow,
			Instructions:   instructions,
			Voice:          cfg.OpenAI.Voice,
			Greeting:       greeting,
		}, logger)
	}

	orch := assistant.NewOrchestrator(detector, player, musicHandler, newSession, assistant.Config{
		OverallTimeout: cfg.Conversation.OverallTimeout,
		AckSound:       cfg.Sounds.Acknowledgment,
		ByeSound:       cfg.Sounds.Goodbye,
	}, logger)

	// Control API.
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	api.InitRoutes(e, orch, engine, musicHandler, api.Credentials{
		Serial: cfg.Server.DeviceSerial,
		Secret: cfg.Server.DeviceSecret,
	}, logger)

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Control API server failed", zap.Error(err))
		}
	}()
	logger.Info("Control API started", zap.String("port", cfg.Server.Port))

	// Main loop.
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("Assistant loop exited", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("Shutting down")
	case <-loopDone:
		logger.Info("Assistant loop ended, shutting down")
	}

	cancel()
	select {
	case <-loopDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Assistant loop did not stop within deadline")
	}
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Control API forced to shutdown", zap.Error(err))
	}

	logger.Info("Assistant exited")
}
