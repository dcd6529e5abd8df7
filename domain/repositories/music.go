package repositories

import (
	"context"

	"github.com/hitaco/assistant/domain/entities"
)

// MusicCatalog looks up songs in the external catalog. Results come back in
// the service's ranking order, best match first.
type MusicCatalog interface {
	Search(ctx context.Context, query string, limit int) ([]entities.SongCandidate, error)
}

// AudioExtractor resolves and fetches the audio for a catalog entry.
type AudioExtractor interface {
	// StreamURL resolves a direct audio-stream URL for a video.
	StreamURL(ctx context.Context, videoID string) (string, error)
	// Download transcodes the stream at url into destPath. On failure the
	// partial file must already be removed when Download returns.
	Download(ctx context.Context, url, destPath string) error
}
