package repositories

// AudioDevice is the machine's single microphone/speaker pair. At most one
// consumer may hold a claim at a time; a second Acquire fails until the
// current claim is released.
type AudioDevice interface {
	Acquire(owner string) (AudioClaim, error)
}

// AudioClaim is exclusive ownership of the device. Streams opened through a
// claim are closed when the claim is released.
type AudioClaim interface {
	// OpenInput opens a PCM16 mono capture stream delivering frames of
	// frameLength samples at sampleRate.
	OpenInput(sampleRate, frameLength int) (InputStream, error)
	// OpenOutput opens a PCM16 mono playback stream at sampleRate.
	OpenOutput(sampleRate int) (OutputStream, error)
	Release() error
}

// InputStream reads one fixed-size PCM16 frame per call.
type InputStream interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// OutputStream writes raw little-endian PCM16 bytes to the speaker.
type OutputStream interface {
	Write(pcm []byte) error
	Close() error
}
