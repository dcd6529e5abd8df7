package repositories

// WakeWordDetector listens passively for a spoken keyword. Construction fails
// if the detector's credential or keyword model is unavailable; that failure
// is fatal at startup and never retried.
type WakeWordDetector interface {
	// Start acquires the audio device for listening.
	Start() error
	// Poll blocks on one audio frame and submits it to the detector. It
	// returns the matched keyword and true on detection (which also stops
	// listening), or false when the frame contained no keyword.
	Poll() (string, bool, error)
	// Stop releases the audio device. Safe to call when not listening.
	Stop() error
}
