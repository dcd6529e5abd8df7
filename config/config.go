package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable the assistant consumes. Values come from the
// environment (optionally seeded from a .env file); nothing else writes here.
type Config struct {
	OpenAI struct {
		APIKey        string
		RealtimeModel string
		Voice         string
	}
	WakeWord struct {
		AccessKey   string
		KeywordPath string
		Keyword     string
		Sensitivity float32
	}
	Conversation struct {
		SilenceTimeout time.Duration
		GraceWindow    time.Duration
		OverallTimeout time.Duration
	}
	Music struct {
		CacheDir     string
		SearchLimit  int
		YtdlpPath    string
		FfmpegPath   string
		DownloadWait time.Duration
	}
	Sounds struct {
		Acknowledgment string
		Goodbye        string
	}
	Server struct {
		Port         string
		JWTSecret    string
		DeviceSerial string
		DeviceSecret string
	}
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; missing files are not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("openai.realtime_model", "gpt-4o-realtime-preview-2024-10-01")
	v.SetDefault("openai.voice", "alloy")

	v.SetDefault("wake.keyword_path", "Hi-Taco_en_linux-x86_64_v3_0_0.ppn")
	v.SetDefault("wake.keyword", "Hi Taco")
	v.SetDefault("wake.sensitivity", 0.6)

	v.SetDefault("conversation.silence_timeout_seconds", 5)
	v.SetDefault("conversation.grace_window_seconds", 3)
	v.SetDefault("conversation.overall_timeout_seconds", 30)

	v.SetDefault("music.cache_dir", "music_cache")
	v.SetDefault("music.search_limit", 5)
	v.SetDefault("music.ytdlp_path", "yt-dlp")
	v.SetDefault("music.ffmpeg_path", "ffmpeg")
	v.SetDefault("music.download_wait_seconds", 60)

	v.SetDefault("sounds.acknowledgment", "audio/hi_there.wav")
	v.SetDefault("sounds.goodbye", "audio/bye_bye.wav")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.device_serial", "dev-local")

	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.realtime_model", "OPENAI_REALTIME_MODEL")
	v.BindEnv("openai.voice", "OPENAI_VOICE")

	v.BindEnv("wake.access_key", "PORCUPINE_ACCESS_KEY")
	v.BindEnv("wake.keyword_path", "WAKE_KEYWORD_PATH")
	v.BindEnv("wake.keyword", "WAKE_KEYWORD")
	v.BindEnv("wake.sensitivity", "WAKE_SENSITIVITY")

	v.BindEnv("conversation.silence_timeout_seconds", "SILENCE_TIMEOUT_SECONDS")
	v.BindEnv("conversation.grace_window_seconds", "GRACE_WINDOW_SECONDS")
	v.BindEnv("conversation.overall_timeout_seconds", "CONVERSATION_TIMEOUT_SECONDS")

	v.BindEnv("music.cache_dir", "MUSIC_CACHE_DIR")
	v.BindEnv("music.search_limit", "MUSIC_SEARCH_LIMIT")
	v.BindEnv("music.ytdlp_path", "YTDLP_PATH")
	v.BindEnv("music.ffmpeg_path", "FFMPEG_PATH")
	v.BindEnv("music.download_wait_seconds", "MUSIC_DOWNLOAD_WAIT_SECONDS")

	v.BindEnv("sounds.acknowledgment", "SOUND_ACKNOWLEDGMENT")
	v.BindEnv("sounds.goodbye", "SOUND_GOODBYE")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.jwt_secret", "JWT_SECRET")
	v.BindEnv("server.device_serial", "DEVICE_SERIAL")
	v.BindEnv("server.device_secret", "DEVICE_SECRET")

	var c Config
	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.RealtimeModel = v.GetString("openai.realtime_model")
	c.OpenAI.Voice = v.GetString("openai.voice")

	c.WakeWord.AccessKey = v.GetString("wake.access_key")
	c.WakeWord.KeywordPath = v.GetString("wake.keyword_path")
	c.WakeWord.Keyword = v.GetString("wake.keyword")
	c.WakeWord.Sensitivity = float32(v.GetFloat64("wake.sensitivity"))

	c.Conversation.SilenceTimeout = time.Duration(v.GetInt("conversation.silence_timeout_seconds")) * time.Second
	c.Conversation.GraceWindow = time.Duration(v.GetInt("conversation.grace_window_seconds")) * time.Second
	c.Conversation.OverallTimeout = time.Duration(v.GetInt("conversation.overall_timeout_seconds")) * time.Second

	c.Music.CacheDir = v.GetString("music.cache_dir")
	c.Music.SearchLimit = v.GetInt("music.search_limit")
	c.Music.YtdlpPath = v.GetString("music.ytdlp_path")
	c.Music.FfmpegPath = v.GetString("music.ffmpeg_path")
	c.Music.DownloadWait = time.Duration(v.GetInt("music.download_wait_seconds")) * time.Second

	c.Sounds.Acknowledgment = v.GetString("sounds.acknowledgment")
	c.Sounds.Goodbye = v.GetString("sounds.goodbye")

	c.Server.Port = v.GetString("server.port")
	c.Server.JWTSecret = v.GetString("server.jwt_secret")
	c.Server.DeviceSerial = v.GetString("server.device_serial")
	c.Server.DeviceSecret = v.GetString("server.device_secret")

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for the realtime dialogue transport")
	}
	if c.WakeWord.AccessKey == "" {
		return fmt.Errorf("PORCUPINE_ACCESS_KEY is required for wake word detection")
	}
	if c.Conversation.SilenceTimeout <= 0 || c.Conversation.OverallTimeout <= 0 {
		return fmt.Errorf("conversation timeouts must be positive")
	}
	return nil
}
