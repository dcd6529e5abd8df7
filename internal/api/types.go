package api

import (
	"time"

	"github.com/hitaco/assistant/domain/entities"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	SecretKey    string `json:"secret_key" validate:"required"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Serial    string    `json:"serial"`
}

// StatusResponse reports what the assistant is doing.
type StatusResponse struct {
	State          string                `json:"state"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Playback       entities.PlaybackInfo `json:"playback"`
}

// MusicCommandRequest carries a transcript-style music command.
type MusicCommandRequest struct {
	Command string `json:"command" validate:"required"`
}

// MusicPlayRequest carries a song query for the play endpoint.
type MusicPlayRequest struct {
	Query string `json:"query" validate:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
