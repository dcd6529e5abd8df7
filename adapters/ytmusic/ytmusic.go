package ytmusic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/domain/repositories"
)

// Config holds configuration for the yt-dlp backed catalog and extractor.
// Optional fields with defaults:
// - YtdlpPath: yt-dlp binary (default: "yt-dlp")
// - FfmpegPath: ffmpeg binary (default: "ffmpeg")
type Config struct {
	YtdlpPath  string
	FfmpegPath string
}

// Catalog implements MusicCatalog by shelling out to yt-dlp's search.
type Catalog struct {
	ytdlp  string
	logger *zap.Logger
}

var _ repositories.MusicCatalog = (*Catalog)(nil)

// NewCatalog creates a catalog client.
func NewCatalog(cfg Config, logger *zap.Logger) *Catalog {
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	return &Catalog{ytdlp: cfg.YtdlpPath, logger: logger}
}

type searchEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
}

// Search runs a flat-playlist search and returns candidates in the service's
// ranking order, best match first, capped at limit.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]entities.SongCandidate, error) {
	if limit <= 0 {
		limit = 5
	}
	target := fmt.Sprintf("ytsearch%d:%s", limit, query)
	cmd := exec.CommandContext(ctx, c.ytdlp, "--dump-json", "--flat-playlist", "--no-warnings", target)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("catalog search failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var candidates []entities.SongCandidate
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry searchEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			c.logger.Warn("Skipping unparseable search result", zap.Error(err))
			continue
		}
		artist := entry.Uploader
		if artist == "" {
			artist = entry.Channel
		}
		if artist == "" {
			artist = "Unknown Artist"
		}
		candidates = append(candidates, entities.SongCandidate{
			VideoID:  entry.ID,
			Title:    entry.Title,
			Artist:   artist,
			Duration: formatDuration(entry.Duration),
		})
		if len(candidates) >= limit {
			break
		}
	}

	c.logger.Info("Catalog search completed",
		zap.String("query", query),
		zap.Int("results", len(candidates)))
	return candidates, nil
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "Unknown"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Extractor implements AudioExtractor with yt-dlp URL resolution and ffmpeg
// transcoding.
type Extractor struct {
	ytdlp  string
	ffmpeg string
	logger *zap.Logger
}

var _ repositories.AudioExtractor = (*Extractor)(nil)

// NewExtractor creates an extractor.
func NewExtractor(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	if cfg.FfmpegPath == "" {
		cfg.FfmpegPath = "ffmpeg"
	}
	return &Extractor{ytdlp: cfg.YtdlpPath, ffmpeg: cfg.FfmpegPath, logger: logger}
}

// StreamURL resolves the best direct audio-stream URL for a video.
func (e *Extractor) StreamURL(ctx context.Context, videoID string) (string, error) {
	watchURL := "https://www.youtube.com/watch?v=" + videoID
	cmd := exec.CommandContext(ctx, e.ytdlp, "-f", "bestaudio/best", "-g", "--no-warnings", watchURL)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to resolve audio stream for %s: %w: %s",
			videoID, err, strings.TrimSpace(stderr.String()))
	}

	url := strings.TrimSpace(stdout.String())
	if url == "" {
		return "", fmt.Errorf("no audio stream found for %s", videoID)
	}
	return url, nil
}

// Download transcodes the stream at url into destPath as 192k mp3. A failed
// run never leaves a partial file behind.
func (e *Extractor) Download(ctx context.Context, url, destPath string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-i", url, "-vn", "-acodec", "mp3", "-ab", "192k", destPath, "-y")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if rmErr := os.Remove(destPath); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn("Failed to clean up partial download",
				zap.String("path", destPath), zap.Error(rmErr))
		}
		return fmt.Errorf("transcode failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
