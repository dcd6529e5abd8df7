package repositories

import "context"

// SessionConfig describes the audio formats and behavioral instructions sent
// to the dialogue engine when a session opens.
type SessionConfig struct {
	Instructions       string
	Voice              string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
}

// DialogueTransport is a duplex stream to the cloud dialogue engine. One
// transport serves one conversation; Close ends it.
type DialogueTransport interface {
	// Connect dials the engine and sends the session configuration.
	Connect(ctx context.Context, cfg SessionConfig) error
	// SendAudio forwards one PCM16 frame to the engine.
	SendAudio(pcm []byte) error
	// SendText injects a programmatic user turn and requests a response.
	SendText(text string) error
	// Receive blocks for the next inbound event.
	Receive() (TransportEvent, error)
	Close() error
}

// TransportEvent is one inbound event from the dialogue engine.
type TransportEvent interface {
	isTransportEvent()
}

// TranscriptEvent carries the completed transcription of a user utterance.
type TranscriptEvent struct {
	Transcript string
}

// AudioDeltaEvent carries one decoded chunk of assistant speech audio.
type AudioDeltaEvent struct {
	PCM []byte
}

// TextDeltaEvent carries one chunk of assistant response text.
type TextDeltaEvent struct {
	Text string
}

// TurnCompleteEvent marks the end of an assistant turn.
type TurnCompleteEvent struct{}

// SpeechStartedEvent marks the engine detecting the user starting to speak.
type SpeechStartedEvent struct{}

// ErrorEvent carries an error envelope from the engine. It does not end the
// session.
type ErrorEvent struct {
	Code    string
	Message string
}

func (TranscriptEvent) isTransportEvent()    {}
func (AudioDeltaEvent) isTransportEvent()    {}
func (TextDeltaEvent) isTransportEvent()     {}
func (TurnCompleteEvent) isTransportEvent()  {}
func (SpeechStartedEvent) isTransportEvent() {}
func (ErrorEvent) isTransportEvent()         {}
