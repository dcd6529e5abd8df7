package repositories

// Player plays local audio files on the speaker.
type Player interface {
	// Play starts playback of an mp3 file and returns immediately with a
	// handle controlling it.
	Play(path string) (PlaybackHandle, error)
	// PlayClip plays a short sound file to completion. Used for
	// acknowledgment and transition chimes.
	PlayClip(path string) error
}

// PlaybackHandle controls one in-flight playback.
type PlaybackHandle interface {
	Pause()
	Resume()
	// Stop halts playback and releases the underlying decoder.
	Stop()
	// Done is closed when playback finishes or is stopped.
	Done() <-chan struct{}
}
