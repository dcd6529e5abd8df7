package entities

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// PlaybackStatus represents the state of the music player.
type PlaybackStatus string

const (
	PlaybackStopped PlaybackStatus = "stopped"
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
	// PlaybackPausedForConversation is a paused sub-state that remembers the
	// pause was automatic. Only a resume-after-conversation may leave it.
	PlaybackPausedForConversation PlaybackStatus = "paused_for_conversation"
)

// Paused reports whether the status is either paused variant.
func (s PlaybackStatus) Paused() bool {
	return s == PlaybackPaused || s == PlaybackPausedForConversation
}

// SongCandidate is a single search result from the music catalog.
type SongCandidate struct {
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Duration  string `json:"duration"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Song is a track the player knows about, keyed by its content-derived ID.
type Song struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	CachedPath   string    `json:"cached_path"`
	PlayCount    int       `json:"play_count"`
	LastPlayedAt time.Time `json:"last_played_at"`
}

// SongID derives the cache identity of a song from its identifying fields.
// Two lookups of the same (videoID, title, artist) always agree.
func SongID(videoID, title, artist string) string {
	raw := strings.ToLower(videoID + "_" + title + "_" + artist)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:12]
}

// PlaybackInfo is a point-in-time snapshot of the player, safe to hand out.
type PlaybackInfo struct {
	IsPlaying   bool           `json:"is_playing"`
	IsPaused    bool           `json:"is_paused"`
	Status      PlaybackStatus `json:"status"`
	CurrentSong *Song          `json:"current_song,omitempty"`
}
