package music

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const indexFileName = "index.json"

// CacheEntry is one song's record in the persisted index.
type CacheEntry struct {
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	CachedAt        string `json:"cached_at"`
	CachedTimestamp int64  `json:"cached_timestamp"`
	PlayCount       int    `json:"play_count"`
	LastPlayed      string `json:"last_played"`
}

// Cache is the content-addressable song store: one audio file per song named
// by its id, plus a single JSON index. It is safe for concurrent use.
type Cache struct {
	dir       string
	indexPath string
	logger    *zap.Logger

	mu sync.Mutex
}

// NewCache ensures the cache directory exists.
func NewCache(dir string, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	c := &Cache{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFileName),
		logger:    logger,
	}
	logger.Info("Music cache ready", zap.String("dir", dir))
	return c, nil
}

// FilePath returns where the audio for songID lives (or would live).
func (c *Cache) FilePath(songID string) string {
	return filepath.Join(c.dir, songID+".mp3")
}

// IsCached reports whether songID is usable from cache: present in the index,
// file on disk, file nonzero. An index entry whose file was deleted
// externally re-evaluates to false.
func (c *Cache) IsCached(songID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.load()
	if _, ok := index[songID]; !ok {
		return false
	}
	info, err := os.Stat(c.FilePath(songID))
	return err == nil && info.Size() > 0
}

// Record upserts the index entry for songID and bumps its play bookkeeping.
func (c *Cache) Record(songID, videoID, title, artist string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.load()
	now := time.Now()
	entry := index[songID]
	entry.VideoID = videoID
	entry.Title = title
	entry.Artist = artist
	entry.CachedAt = now.Format("2006-01-02 15:04:05")
	entry.CachedTimestamp = now.Unix()
	entry.PlayCount++
	entry.LastPlayed = now.Format("2006-01-02 15:04:05")
	index[songID] = entry

	if err := c.save(index); err != nil {
		c.logger.Error("Failed to save cache index", zap.Error(err))
	}
}

// Remove drops songID from the index and deletes its file if present.
func (c *Cache) Remove(songID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.load()
	delete(index, songID)
	if err := c.save(index); err != nil {
		c.logger.Error("Failed to save cache index", zap.Error(err))
	}
	if err := os.Remove(c.FilePath(songID)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Failed to remove cached file",
			zap.String("songID", songID), zap.Error(err))
	}
}

// Entry returns the index record for songID.
func (c *Cache) Entry(songID string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.load()[songID]
	return entry, ok
}

// Info summarizes the cache for the control API.
type Info struct {
	TotalSongs  int          `json:"total_songs"`
	TotalSizeMB float64      `json:"total_size_mb"`
	Dir         string       `json:"cache_dir"`
	MostPlayed  []CacheEntry `json:"most_played"`
}

// Stats reports track count, on-disk size, and the five most played songs.
func (c *Cache) Stats() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.load()
	var totalSize int64
	entries := make([]CacheEntry, 0, len(index))
	for songID, entry := range index {
		if info, err := os.Stat(c.FilePath(songID)); err == nil {
			totalSize += info.Size()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PlayCount > entries[j].PlayCount
	})
	if len(entries) > 5 {
		entries = entries[:5]
	}

	return Info{
		TotalSongs:  len(index),
		TotalSizeMB: float64(totalSize) / (1024 * 1024),
		Dir:         c.dir,
		MostPlayed:  entries,
	}
}

func (c *Cache) load() map[string]CacheEntry {
	data, err := os.ReadFile(c.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Error("Failed to read cache index", zap.Error(err))
		}
		return map[string]CacheEntry{}
	}
	index := map[string]CacheEntry{}
	if err := json.Unmarshal(data, &index); err != nil {
		c.logger.Error("Cache index is corrupt, starting fresh", zap.Error(err))
		return map[string]CacheEntry{}
	}
	return index
}

func (c *Cache) save(index map[string]CacheEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	if err := os.WriteFile(c.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return nil
}
