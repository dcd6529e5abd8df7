package entities

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConversationState represents the lifecycle of a dialogue session.
type ConversationState string

const (
	ConversationInit      ConversationState = "init"
	ConversationStreaming ConversationState = "streaming"
	ConversationEnding    ConversationState = "ending"
	ConversationClosed    ConversationState = "closed"
)

// EndReason records why a conversation terminated. Timeout-driven ends are
// policy, not failures, and are logged distinctly.
type EndReason string

const (
	EndReasonNone       EndReason = ""
	EndReasonUserPhrase EndReason = "user_phrase"
	EndReasonMusic      EndReason = "music_started"
	EndReasonSilence    EndReason = "silence_timeout"
	EndReasonDeadline   EndReason = "overall_timeout"
	EndReasonShutdown   EndReason = "shutdown"
)

// Conversation holds the shared state of one dialogue session. The session's
// loops run concurrently and mutate it only through these methods; every
// transition happens under the one mutex.
type Conversation struct {
	ID string

	mu                  sync.Mutex
	state               ConversationState
	startedAt           time.Time
	lastActivityAt      time.Time
	assistantFinishedAt time.Time
	assistantSpeaking   bool
	shouldEnd           bool
	endReason           EndReason
}

// NewConversation creates a conversation in the Init state.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:             uuid.NewString(),
		state:          ConversationInit,
		startedAt:      now,
		lastActivityAt: now,
	}
}

// State returns the current lifecycle state.
func (c *Conversation) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginStreaming moves Init -> Streaming and stamps activity.
func (c *Conversation) BeginStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConversationInit {
		return false
	}
	c.state = ConversationStreaming
	c.lastActivityAt = time.Now()
	return true
}

// BeginEnding moves Streaming -> Ending. Exactly one caller wins; the winner
// is responsible for running teardown.
func (c *Conversation) BeginEnding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConversationStreaming {
		return false
	}
	c.state = ConversationEnding
	return true
}

// Close moves to the terminal state. Returns true only for the transition
// that actually closed the conversation; all resource releases must have
// happened before calling this.
func (c *Conversation) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConversationClosed {
		return false
	}
	c.state = ConversationClosed
	return true
}

// RequestEnd flags the session for termination. The first reason wins.
func (c *Conversation) RequestEnd(reason EndReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shouldEnd {
		c.shouldEnd = true
		c.endReason = reason
	}
}

// ShouldEnd reports whether any loop has requested termination.
func (c *Conversation) ShouldEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldEnd
}

// EndReason returns the reason recorded by the first RequestEnd.
func (c *Conversation) EndReason() EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

// Touch records user or assistant activity now.
func (c *Conversation) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
}

// LastActivity returns the most recent activity timestamp.
func (c *Conversation) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivityAt
}

// SetAssistantSpeaking toggles the speaking flag. Turning it on also counts
// as activity.
func (c *Conversation) SetAssistantSpeaking(speaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assistantSpeaking = speaking
	if speaking {
		c.lastActivityAt = time.Now()
	}
}

// AssistantSpeaking reports whether assistant output is in flight.
func (c *Conversation) AssistantSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assistantSpeaking
}

// MarkTurnComplete clears the speaking flag and records when the assistant
// finished, which the watchdog uses for its grace window.
func (c *Conversation) MarkTurnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assistantSpeaking = false
	c.assistantFinishedAt = time.Now()
}

// AssistantFinishedAt returns when the last assistant turn completed, zero if
// none has.
func (c *Conversation) AssistantFinishedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assistantFinishedAt
}

// StartedAt returns the conversation creation time.
func (c *Conversation) StartedAt() time.Time {
	return c.startedAt
}
