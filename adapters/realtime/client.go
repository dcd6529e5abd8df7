package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/repositories"
)

const defaultEndpoint = "wss://api.openai.com/v1/realtime"

// Config holds configuration for the realtime transport.
// Required fields:
// - APIKey: OpenAI API key
// Optional fields with defaults:
// - Endpoint: websocket endpoint (default: the public realtime endpoint)
// - Model: realtime model identifier
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
}

// Client implements DialogueTransport over the OpenAI Realtime websocket.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex // guards writes; gorilla allows one concurrent writer
	conn *websocket.Conn
}

var _ repositories.DialogueTransport = (*Client)(nil)

// NewClient creates a realtime transport. The API key is required.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required for the realtime transport")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Client{cfg: cfg, logger: logger}, nil
}

// Connect dials the realtime endpoint and sends the session configuration.
func (c *Client) Connect(ctx context.Context, sc repositories.SessionConfig) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := c.cfg.Endpoint + "?model=" + c.cfg.Model
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	update := map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"modalities":          []string{"text", "audio"},
			"instructions":        sc.Instructions,
			"voice":               sc.Voice,
			"input_audio_format":  sc.InputAudioFormat,
			"output_audio_format": sc.OutputAudioFormat,
			"input_audio_transcription": map[string]interface{}{
				"model": sc.TranscriptionModel,
			},
		},
	}
	if err := c.writeJSON(update); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send session configuration: %w", err)
	}

	c.logger.Info("Realtime transport connected", zap.String("model", c.cfg.Model))
	return nil
}

// SendAudio forwards one PCM frame as an input_audio_buffer.append event.
func (c *Client) SendAudio(pcm []byte) error {
	return c.writeJSON(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendText injects a user text turn and asks the engine to respond.
func (c *Client) SendText(text string) error {
	item := map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type": "message",
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := c.writeJSON(item); err != nil {
		return err
	}
	return c.writeJSON(map[string]interface{}{"type": "response.create"})
}

// Receive blocks for the next inbound event and maps it to a variant.
func (c *Client) Receive() (repositories.TransportEvent, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("transport is not connected")
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read transport event: %w", err)
	}
	return ParseEvent(message)
}

// Close shuts the websocket down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("transport is not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
