package music

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/internal/metrics"
)

// Intent is one recognized music command.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentPlay
	IntentPause
	IntentResume
	IntentStop
	IntentStatus
	IntentNext
)

// Command is a parsed utterance: the intent plus its query, if any.
type Command struct {
	Intent Intent
	Query  string
}

// CommandResult is what the command layer hands back across the boundary:
// a short natural-language response plus a machine-readable action tag.
type CommandResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Action   string `json:"action"`
	Query    string `json:"query,omitempty"`
}

// playFillers are stripped from the front and back of a play query.
var playFillers = []string{"the song", "some music", "a song", "song", "music", "please", "for me"}

// Parse classifies a transcript into a music command. Checks run in a fixed
// order so that utterances matching several patterns resolve predictably:
// status and skip before play, since "what's playing" and "skip this song"
// both contain play/song words.
func Parse(transcript string) (Command, bool) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	text = strings.TrimRight(text, ".!?,")

	switch {
	case containsAny(text, "what's playing", "what is playing", "music status", "what song is this"):
		return Command{Intent: IntentStatus}, true
	case containsAny(text, "next song", "skip this song", "skip the song", "skip song"):
		return Command{Intent: IntentNext}, true
	case containsAny(text, "resume", "unpause", "continue the music", "continue playing"):
		return Command{Intent: IntentResume}, true
	case containsAny(text, "pause"):
		return Command{Intent: IntentPause}, true
	case containsAny(text, "stop the music", "stop music", "stop playing", "stop the song"):
		return Command{Intent: IntentStop}, true
	case strings.Contains(text, "play "):
		query := text[strings.Index(text, "play ")+len("play "):]
		for _, filler := range playFillers {
			query = strings.TrimSpace(strings.TrimPrefix(query, filler))
			query = strings.TrimSpace(strings.TrimSuffix(query, filler))
		}
		query = strings.TrimSpace(strings.TrimPrefix(query, "by "))
		if query == "" {
			return Command{}, false
		}
		return Command{Intent: IntentPlay, Query: query}, true
	default:
		return Command{}, false
	}
}

func containsAny(text string, phrases ...string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// Handler executes parsed music commands against the engine. Failures come
// back as structured results; nothing escapes the command boundary.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a command handler.
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// IsMusicCommand reports whether the transcript parses as a music command.
func (h *Handler) IsMusicCommand(transcript string) bool {
	_, ok := Parse(transcript)
	return ok
}

// Handle parses and executes one transcript. Unrecognized input yields a
// structured unknown result, never an error.
func (h *Handler) Handle(ctx context.Context, transcript string) (result CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Music command panicked", zap.Any("panic", r))
			result = CommandResult{
				Success:  false,
				Response: "Sorry, something went wrong with the music player.",
				Action:   "error",
			}
		}
		metrics.MusicCommands.WithLabelValues(result.Action).Inc()
	}()

	cmd, ok := Parse(transcript)
	if !ok {
		return CommandResult{
			Success:  false,
			Response: "I didn't recognize that as a music command.",
			Action:   "unknown",
		}
	}

	h.logger.Info("Handling music command",
		zap.Int("intent", int(cmd.Intent)),
		zap.String("query", cmd.Query))

	switch cmd.Intent {
	case IntentPlay:
		return h.handlePlay(ctx, cmd.Query)
	case IntentPause:
		return h.handlePause()
	case IntentResume:
		return h.handleResume()
	case IntentStop:
		return h.handleStop()
	case IntentStatus:
		return h.handleStatus()
	case IntentNext:
		return h.handleNext()
	default:
		return CommandResult{
			Success:  false,
			Response: "I didn't recognize that as a music command.",
			Action:   "unknown",
		}
	}
}

func (h *Handler) handlePlay(ctx context.Context, query string) CommandResult {
	if h.engine.PlaySearchResult(ctx, query, 0) {
		return CommandResult{
			Success:  true,
			Response: fmt.Sprintf("Now playing %s.", query),
			Action:   "play",
			Query:    query,
		}
	}
	return CommandResult{
		Success:  false,
		Response: fmt.Sprintf("Sorry, I couldn't find or play %q. Please try a different song.", query),
		Action:   "play_failed",
		Query:    query,
	}
}

func (h *Handler) handlePause() CommandResult {
	status := h.engine.Status()
	if !status.IsPlaying {
		return CommandResult{
			Success:  false,
			Response: "There's no music currently playing to pause.",
			Action:   "pause_no_music",
		}
	}
	if status.IsPaused {
		// Still downgrades an automatic pause to a user pause.
		h.engine.Pause()
		return CommandResult{
			Success:  false,
			Response: "The music is already paused.",
			Action:   "pause_already_paused",
		}
	}
	if h.engine.Pause() {
		return CommandResult{
			Success:  true,
			Response: fmt.Sprintf("Paused %s.", songTitle(status)),
			Action:   "pause",
		}
	}
	return CommandResult{
		Success:  false,
		Response: "Sorry, I couldn't pause the music.",
		Action:   "pause_failed",
	}
}

func (h *Handler) handleResume() CommandResult {
	status := h.engine.Status()
	if !status.IsPlaying {
		return CommandResult{
			Success:  false,
			Response: "There's no music to resume. Try asking me to play a song.",
			Action:   "resume_no_music",
		}
	}
	if !status.IsPaused {
		return CommandResult{
			Success:  false,
			Response: "The music is already playing.",
			Action:   "resume_not_paused",
		}
	}
	if h.engine.Resume() {
		return CommandResult{
			Success:  true,
			Response: fmt.Sprintf("Resumed %s.", songTitle(status)),
			Action:   "resume",
		}
	}
	return CommandResult{
		Success:  false,
		Response: "Sorry, I couldn't resume the music.",
		Action:   "resume_failed",
	}
}

func (h *Handler) handleStop() CommandResult {
	status := h.engine.Status()
	if !status.IsPlaying {
		return CommandResult{
			Success:  false,
			Response: "There's no music currently playing to stop.",
			Action:   "stop_no_music",
		}
	}
	title := songTitle(status)
	if h.engine.Stop() {
		return CommandResult{
			Success:  true,
			Response: fmt.Sprintf("Stopped %s.", title),
			Action:   "stop",
		}
	}
	return CommandResult{
		Success:  false,
		Response: "Sorry, I couldn't stop the music.",
		Action:   "stop_failed",
	}
}

func (h *Handler) handleStatus() CommandResult {
	status := h.engine.Status()
	if !status.IsPlaying {
		return CommandResult{
			Success:  true,
			Response: "No music is currently playing.",
			Action:   "status",
		}
	}
	if status.IsPaused {
		return CommandResult{
			Success:  true,
			Response: fmt.Sprintf("Currently paused: %s.", songTitle(status)),
			Action:   "status",
		}
	}
	return CommandResult{
		Success:  true,
		Response: fmt.Sprintf("Currently playing: %s.", songTitle(status)),
		Action:   "status",
	}
}

func (h *Handler) handleNext() CommandResult {
	status := h.engine.Status()
	if !status.IsPlaying {
		return CommandResult{
			Success:  false,
			Response: "No music is currently playing to skip.",
			Action:   "next_no_music",
		}
	}
	// Single-track player: skipping stops the current song.
	h.engine.Stop()
	return CommandResult{
		Success:  true,
		Response: "Skipped. Ask me to play another song.",
		Action:   "next",
	}
}

// PauseForConversation and ResumeAfterConversation pass through to the
// engine so the dialogue session only needs the handler.
func (h *Handler) PauseForConversation() bool { return h.engine.PauseForConversation() }

func (h *Handler) ResumeAfterConversation() bool { return h.engine.ResumeAfterConversation() }

// Playing reports whether a track is actively sounding (not paused).
func (h *Handler) Playing() bool {
	status := h.engine.Status()
	return status.IsPlaying && !status.IsPaused
}

func songTitle(status entities.PlaybackInfo) string {
	if status.CurrentSong == nil {
		return "the music"
	}
	return status.CurrentSong.Title
}
