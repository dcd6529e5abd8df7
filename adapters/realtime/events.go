package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hitaco/assistant/domain/repositories"
)

// rawEvent is the envelope shared by every inbound realtime event.
type rawEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	Error      struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent maps one wire message to a transport event variant. Event types
// the session does not care about come back as nil with no error.
func ParseEvent(message []byte) (repositories.TransportEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(message, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse transport event: %w", err)
	}

	switch raw.Type {
	case "conversation.item.input_audio_transcription.completed":
		return repositories.TranscriptEvent{Transcript: raw.Transcript}, nil
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(raw.Delta)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio delta: %w", err)
		}
		return repositories.AudioDeltaEvent{PCM: pcm}, nil
	case "response.text.delta", "response.audio_transcript.delta":
		return repositories.TextDeltaEvent{Text: raw.Delta}, nil
	case "response.done":
		return repositories.TurnCompleteEvent{}, nil
	case "input_audio_buffer.speech_started":
		return repositories.SpeechStartedEvent{}, nil
	case "error":
		return repositories.ErrorEvent{Code: raw.Error.Code, Message: raw.Error.Message}, nil
	default:
		return nil, nil
	}
}
