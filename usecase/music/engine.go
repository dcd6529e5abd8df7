package music

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/domain/repositories"
	"github.com/hitaco/assistant/internal/metrics"
)

const stopJoinTimeout = 2 * time.Second

// Engine plays single tracks from the music catalog through the song cache.
// Playback runs on the player's own execution context; all state here is
// guarded by one mutex so the orchestration loops and the playback monitor
// can touch it concurrently.
type Engine struct {
	catalog      repositories.MusicCatalog
	extractor    repositories.AudioExtractor
	player       repositories.Player
	cache        *Cache
	logger       *zap.Logger
	searchLimit  int
	downloadWait time.Duration

	mu         sync.Mutex
	status     entities.PlaybackStatus
	autoPaused bool
	current    *entities.Song
	handle     repositories.PlaybackHandle
}

// EngineConfig holds the engine's tunables.
// Optional fields with defaults:
// - SearchLimit: candidates per catalog lookup (default: 5)
// - DownloadWait: bound on one download (default: 60s)
type EngineConfig struct {
	SearchLimit  int
	DownloadWait time.Duration
}

// NewEngine creates a music engine.
func NewEngine(
	catalog repositories.MusicCatalog,
	extractor repositories.AudioExtractor,
	player repositories.Player,
	cache *Cache,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.DownloadWait <= 0 {
		cfg.DownloadWait = 60 * time.Second
	}
	return &Engine{
		catalog:      catalog,
		extractor:    extractor,
		player:       player,
		cache:        cache,
		logger:       logger,
		searchLimit:  cfg.SearchLimit,
		downloadWait: cfg.DownloadWait,
		status:       entities.PlaybackStopped,
	}
}

// Search looks the query up in the catalog. Lookup failure is logged and
// returns an empty result, never an error to the caller.
func (e *Engine) Search(ctx context.Context, query string, limit int) []entities.SongCandidate {
	if limit <= 0 {
		limit = e.searchLimit
	}
	candidates, err := e.catalog.Search(ctx, query, limit)
	if err != nil {
		e.logger.Error("Catalog lookup failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	return candidates
}

// PlaySearchResult searches and plays the candidate at index.
func (e *Engine) PlaySearchResult(ctx context.Context, query string, index int) bool {
	limit := e.searchLimit
	if index+1 > limit {
		limit = index + 1
	}
	candidates := e.Search(ctx, query, limit)
	if len(candidates) == 0 {
		e.logger.Warn("No songs found", zap.String("query", query))
		return false
	}
	if index >= len(candidates) {
		e.logger.Warn("Search result index out of range",
			zap.Int("index", index), zap.Int("found", len(candidates)))
		return false
	}
	return e.Play(ctx, candidates[index])
}

// Play stops any current track, resolves the candidate through the cache,
// and starts playback on the player's execution context. Returns false on
// any failure; a failed download never pollutes the cache.
func (e *Engine) Play(ctx context.Context, candidate entities.SongCandidate) bool {
	e.Stop()

	songID := entities.SongID(candidate.VideoID, candidate.Title, candidate.Artist)
	path := e.cache.FilePath(songID)

	e.logger.Info("Starting playback",
		zap.String("title", candidate.Title),
		zap.String("artist", candidate.Artist),
		zap.String("songID", songID))

	if e.cache.IsCached(songID) {
		e.logger.Info("Cache hit", zap.String("songID", songID))
		metrics.CacheHits.Inc()
		e.cache.Record(songID, candidate.VideoID, candidate.Title, candidate.Artist)
	} else {
		metrics.CacheMisses.Inc()
		if !e.download(ctx, songID, candidate, path) {
			return false
		}
	}

	handle, err := e.player.Play(path)
	if err != nil {
		e.logger.Error("Failed to start playback", zap.String("path", path), zap.Error(err))
		return false
	}

	song := &entities.Song{
		ID:           songID,
		VideoID:      candidate.VideoID,
		Title:        candidate.Title,
		Artist:       candidate.Artist,
		CachedPath:   path,
		LastPlayedAt: time.Now(),
	}
	if entry, ok := e.cache.Entry(songID); ok {
		song.PlayCount = entry.PlayCount
	}

	e.mu.Lock()
	e.status = entities.PlaybackPlaying
	e.autoPaused = false
	e.current = song
	e.handle = handle
	e.mu.Unlock()

	go e.monitor(handle, song)
	return true
}

// download fetches the candidate into the cache file. On failure the partial
// file is removed and the index is left untouched.
func (e *Engine) download(ctx context.Context, songID string, candidate entities.SongCandidate, path string) bool {
	e.logger.Info("Cache miss, downloading", zap.String("title", candidate.Title))

	dlCtx, cancel := context.WithTimeout(ctx, e.downloadWait)
	defer cancel()

	url, err := e.extractor.StreamURL(dlCtx, candidate.VideoID)
	if err != nil {
		e.logger.Error("Failed to resolve audio stream",
			zap.String("videoID", candidate.VideoID), zap.Error(err))
		return false
	}
	if err := e.extractor.Download(dlCtx, url, path); err != nil {
		e.logger.Error("Download failed", zap.String("title", candidate.Title), zap.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn("Failed to clean up partial download", zap.Error(rmErr))
		}
		return false
	}

	e.cache.Record(songID, candidate.VideoID, candidate.Title, candidate.Artist)
	e.logger.Info("Cached song", zap.String("songID", songID))
	return true
}

// monitor flips the engine back to Stopped when the track plays out on its
// own. A handle superseded by a later Play is ignored.
func (e *Engine) monitor(handle repositories.PlaybackHandle, song *entities.Song) {
	<-handle.Done()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != handle {
		return
	}
	e.logger.Info("Finished playing", zap.String("title", song.Title))
	e.status = entities.PlaybackStopped
	e.autoPaused = false
	e.current = nil
	e.handle = nil
}

// Pause pauses playback. Succeeds only from Playing. A pause attempt while
// auto-paused records the user's intent: the track stays paused but is no
// longer eligible for automatic resume.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case entities.PlaybackPlaying:
		e.status = entities.PlaybackPaused
		e.autoPaused = false
		e.handle.Pause()
		e.logger.Info("Paused", zap.String("title", e.currentTitle()))
		return true
	case entities.PlaybackPausedForConversation:
		// The user asked for the pause; it must survive the conversation.
		e.status = entities.PlaybackPaused
		e.autoPaused = false
		return false
	default:
		return false
	}
}

// Resume resumes paused playback and always clears the auto-pause flag.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.status.Paused() {
		return false
	}
	e.status = entities.PlaybackPlaying
	e.autoPaused = false
	e.handle.Resume()
	e.logger.Info("Resumed", zap.String("title", e.currentTitle()))
	return true
}

// PauseForConversation pauses playback on behalf of a conversation and marks
// the pause automatic. Succeeds only from Playing.
func (e *Engine) PauseForConversation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != entities.PlaybackPlaying {
		return false
	}
	e.status = entities.PlaybackPausedForConversation
	e.autoPaused = true
	e.handle.Pause()
	e.logger.Info("Paused for conversation", zap.String("title", e.currentTitle()))
	return true
}

// ResumeAfterConversation resumes playback only if the current pause was
// automatic. A user-initiated pause is never silently resumed.
func (e *Engine) ResumeAfterConversation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.status.Paused() || !e.autoPaused {
		return false
	}
	e.status = entities.PlaybackPlaying
	e.autoPaused = false
	e.handle.Resume()
	e.logger.Info("Resumed after conversation", zap.String("title", e.currentTitle()))
	return true
}

// Stop halts playback and joins the playback context with a bounded wait.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if e.status == entities.PlaybackStopped {
		e.mu.Unlock()
		return false
	}
	handle := e.handle
	title := e.currentTitle()
	e.status = entities.PlaybackStopped
	e.autoPaused = false
	e.current = nil
	e.handle = nil
	e.mu.Unlock()

	if handle != nil {
		handle.Stop()
		select {
		case <-handle.Done():
		case <-time.After(stopJoinTimeout):
			e.logger.Warn("Playback did not stop within deadline", zap.String("title", title))
		}
	}
	e.logger.Info("Stopped", zap.String("title", title))
	return true
}

// Status is a pure read of the current playback state, safe from any loop.
func (e *Engine) Status() entities.PlaybackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := entities.PlaybackInfo{
		Status:    e.status,
		IsPlaying: e.status != entities.PlaybackStopped,
		IsPaused:  e.status.Paused(),
	}
	if e.current != nil {
		song := *e.current
		info.CurrentSong = &song
	}
	return info
}

// CacheStats exposes cache bookkeeping for the control API.
func (e *Engine) CacheStats() Info {
	return e.cache.Stats()
}

func (e *Engine) currentTitle() string {
	if e.current == nil {
		return "Unknown"
	}
	return e.current.Title
}
