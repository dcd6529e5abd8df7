package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/domain/repositories"
	"github.com/hitaco/assistant/usecase/music"
)

type fakeTransport struct {
	events     chan repositories.TransportEvent
	closed     chan struct{}
	once       sync.Once
	connectErr error

	mu        sync.Mutex
	sentText  []string
	sentAudio int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan repositories.TransportEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, cfg repositories.SessionConfig) error {
	return f.connectErr
}

func (f *fakeTransport) SendAudio(pcm []byte) error {
	select {
	case <-f.closed:
		return errors.New("transport closed")
	default:
	}
	f.mu.Lock()
	f.sentAudio++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendText(text string) error {
	f.mu.Lock()
	f.sentText = append(f.sentText, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Receive() (repositories.TransportEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return nil, errors.New("transport closed")
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) greetings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sentText...)
}

type fakeInput struct {
	frame  []int16
	closed chan struct{}
	once   sync.Once
}

func (f *fakeInput) ReadFrame() ([]int16, error) {
	select {
	case <-f.closed:
		return nil, errors.New("input closed")
	case <-time.After(time.Millisecond):
	}
	return f.frame, nil
}

func (f *fakeInput) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeOutput struct {
	mu      sync.Mutex
	written int
}

func (f *fakeOutput) Write(pcm []byte) error {
	f.mu.Lock()
	f.written += len(pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Close() error { return nil }

func (f *fakeOutput) bytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

type fakeClaim struct {
	input    *fakeInput
	output   *fakeOutput
	mu       sync.Mutex
	released bool
}

func (f *fakeClaim) OpenInput(sampleRate, frameLength int) (repositories.InputStream, error) {
	return f.input, nil
}

func (f *fakeClaim) OpenOutput(sampleRate int) (repositories.OutputStream, error) {
	return f.output, nil
}

func (f *fakeClaim) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return errors.New("already released")
	}
	f.released = true
	f.input.Close()
	return nil
}

func (f *fakeClaim) wasReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeDevice struct {
	claim *fakeClaim
}

func (f *fakeDevice) Acquire(owner string) (repositories.AudioClaim, error) {
	return f.claim, nil
}

type fakeMusic struct {
	mu            sync.Mutex
	playing       bool
	isCommand     bool
	result        music.CommandResult
	pauseCalls    int
	resumeCalls   int
	handledList   []string
	resumeReturns bool
	pausedReturns bool
}

func (f *fakeMusic) IsMusicCommand(transcript string) bool { return f.isCommand }

func (f *fakeMusic) Handle(ctx context.Context, transcript string) music.CommandResult {
	f.mu.Lock()
	f.handledList = append(f.handledList, transcript)
	f.mu.Unlock()
	return f.result
}

func (f *fakeMusic) PauseForConversation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return f.pausedReturns
}

func (f *fakeMusic) ResumeAfterConversation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	return f.resumeReturns
}

func (f *fakeMusic) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeMusic) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauseCalls, f.resumeCalls
}

func newTestSession(musicCtl MusicControl) (*Session, *fakeTransport, *fakeClaim) {
	transport := newFakeTransport()
	claim := &fakeClaim{
		input:  &fakeInput{frame: make([]int16, 1024), closed: make(chan struct{})},
		output: &fakeOutput{},
	}
	cfg := Config{
		SilenceTimeout: time.Minute,
		GraceWindow:    3 * time.Second,
		Greeting:       "Hi! How can I help you?",
	}
	session := NewSession(transport, &fakeDevice{claim: claim}, musicCtl, cfg, zap.NewNop())
	return session, transport, claim
}

func runSession(t *testing.T, session *Session) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Start(context.Background()); err != nil {
			t.Errorf("Session failed: %v", err)
		}
	}()
	return done
}

func waitSession(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not end in time")
	}
}

func TestEndPhraseEndsSession(t *testing.T) {
	session, transport, claim := newTestSession(nil)
	done := runSession(t, session)

	transport.events <- repositories.TranscriptEvent{Transcript: "Okay, goodbye!"}
	waitSession(t, done)

	conv := session.Conversation()
	if conv.State() != entities.ConversationClosed {
		t.Errorf("Expected closed state, got %s", conv.State())
	}
	if conv.EndReason() != entities.EndReasonUserPhrase {
		t.Errorf("Expected end reason %s, got %s", entities.EndReasonUserPhrase, conv.EndReason())
	}
	if !claim.wasReleased() {
		t.Error("Expected audio claim to be released")
	}

	greetings := transport.greetings()
	if len(greetings) != 1 || greetings[0] != "Hi! How can I help you?" {
		t.Errorf("Expected greeting to be sent, got %v", greetings)
	}
}

func TestOrdinaryChatterDoesNotEndSession(t *testing.T) {
	session, transport, _ := newTestSession(nil)
	done := runSession(t, session)

	transport.events <- repositories.TranscriptEvent{Transcript: "What's the weather like?"}

	select {
	case <-done:
		t.Fatal("Expected session to keep running after ordinary transcript")
	case <-time.After(200 * time.Millisecond):
	}

	session.Shutdown(entities.EndReasonShutdown)
	waitSession(t, done)
}

func TestBargeInClearsSpeakingFlag(t *testing.T) {
	session, transport, claim := newTestSession(nil)
	done := runSession(t, session)

	transport.events <- repositories.AudioDeltaEvent{PCM: make([]byte, 2048)}
	transport.events <- repositories.SpeechStartedEvent{}

	deadline := time.After(2 * time.Second)
	for session.Conversation().AssistantSpeaking() {
		select {
		case <-deadline:
			t.Fatal("Expected barge-in to clear the speaking flag")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if claim.output.bytes() != 2048 {
		t.Errorf("Expected 2048 bytes of assistant audio, got %d", claim.output.bytes())
	}

	transport.events <- repositories.TranscriptEvent{Transcript: "goodbye"}
	waitSession(t, done)
}

func TestMusicPlayHandsOffDevice(t *testing.T) {
	musicCtl := &fakeMusic{
		isCommand: true,
		result:    music.CommandResult{Success: true, Action: "play", Query: "test song"},
	}
	session, transport, claim := newTestSession(musicCtl)
	done := runSession(t, session)

	transport.events <- repositories.TranscriptEvent{Transcript: "play test song"}
	waitSession(t, done)

	conv := session.Conversation()
	if conv.EndReason() != entities.EndReasonMusic {
		t.Errorf("Expected end reason %s, got %s", entities.EndReasonMusic, conv.EndReason())
	}
	if !claim.wasReleased() {
		t.Error("Expected audio claim to be released for the player")
	}
}

func TestFailedMusicCommandKeepsSessionAlive(t *testing.T) {
	musicCtl := &fakeMusic{
		isCommand: true,
		result:    music.CommandResult{Success: false, Action: "play_failed"},
	}
	session, transport, _ := newTestSession(musicCtl)
	done := runSession(t, session)

	transport.events <- repositories.TranscriptEvent{Transcript: "play test song"}

	select {
	case <-done:
		t.Fatal("Expected session to keep running after failed music command")
	case <-time.After(200 * time.Millisecond):
	}

	session.Shutdown(entities.EndReasonShutdown)
	waitSession(t, done)
}

func TestAutoPauseAndResumeExactlyOnce(t *testing.T) {
	musicCtl := &fakeMusic{playing: true, pausedReturns: true, resumeReturns: true}
	session, transport, _ := newTestSession(musicCtl)
	done := runSession(t, session)

	transport.events <- repositories.TranscriptEvent{Transcript: "goodbye"}
	waitSession(t, done)

	// A late shutdown must not trigger a second resume.
	session.Shutdown(entities.EndReasonShutdown)

	pauses, resumes := musicCtl.counts()
	if pauses != 1 {
		t.Errorf("Expected exactly 1 conversation pause, got %d", pauses)
	}
	if resumes != 1 {
		t.Errorf("Expected exactly 1 conversation resume, got %d", resumes)
	}
}

func TestConnectFailureResumesAutoPausedMusic(t *testing.T) {
	musicCtl := &fakeMusic{playing: true, pausedReturns: true, resumeReturns: true}
	transport := newFakeTransport()
	transport.connectErr = errors.New("dial failed")
	claim := &fakeClaim{
		input:  &fakeInput{frame: make([]int16, 1024), closed: make(chan struct{})},
		output: &fakeOutput{},
	}
	session := NewSession(transport, &fakeDevice{claim: claim}, musicCtl, Config{
		SilenceTimeout: time.Minute,
	}, zap.NewNop())

	if err := session.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail when the transport cannot connect")
	}

	pauses, resumes := musicCtl.counts()
	if pauses != 1 {
		t.Errorf("Expected exactly 1 conversation pause, got %d", pauses)
	}
	if resumes != 1 {
		t.Errorf("Expected the auto-paused track to be resumed exactly once, got %d resumes", resumes)
	}
	if session.Conversation().State() != entities.ConversationClosed {
		t.Errorf("Expected closed state, got %s", session.Conversation().State())
	}
}

func TestNoResumeWithoutAutoPause(t *testing.T) {
	musicCtl := &fakeMusic{playing: false}
	session, transport, _ := newTestSession(musicCtl)
	done := runSession(t, session)

	transport.events <- repositories.TranscriptEvent{Transcript: "goodbye"}
	waitSession(t, done)

	pauses, resumes := musicCtl.counts()
	if pauses != 0 {
		t.Errorf("Expected no conversation pause, got %d", pauses)
	}
	if resumes != 0 {
		t.Errorf("Expected no conversation resume, got %d", resumes)
	}
}

func TestSilenceTimeoutEndsSession(t *testing.T) {
	transport := newFakeTransport()
	claim := &fakeClaim{
		input:  &fakeInput{frame: make([]int16, 1024), closed: make(chan struct{})},
		output: &fakeOutput{},
	}
	cfg := Config{
		SilenceTimeout: 100 * time.Millisecond,
		GraceWindow:    50 * time.Millisecond,
	}
	session := NewSession(transport, &fakeDevice{claim: claim}, nil, cfg, zap.NewNop())
	done := runSession(t, session)

	// Quiet frames never refresh the activity clock, so the watchdog
	// ends the session on its own.
	waitSession(t, done)

	conv := session.Conversation()
	if conv.EndReason() != entities.EndReasonSilence {
		t.Errorf("Expected end reason %s, got %s", entities.EndReasonSilence, conv.EndReason())
	}
	if !claim.wasReleased() {
		t.Error("Expected audio claim to be released")
	}
}

func TestShutdownUnblocksSession(t *testing.T) {
	session, _, claim := newTestSession(nil)
	done := runSession(t, session)

	time.Sleep(50 * time.Millisecond)
	session.Shutdown(entities.EndReasonDeadline)
	waitSession(t, done)

	conv := session.Conversation()
	if conv.EndReason() != entities.EndReasonDeadline {
		t.Errorf("Expected end reason %s, got %s", entities.EndReasonDeadline, conv.EndReason())
	}
	if !claim.wasReleased() {
		t.Error("Expected audio claim to be released")
	}
}

func TestEffectiveTimeout(t *testing.T) {
	session, _, _ := newTestSession(nil)
	now := time.Now()

	// No assistant turn yet: base timeout applies.
	if got := session.effectiveTimeout(now); got != time.Minute {
		t.Errorf("Expected base timeout, got %v", got)
	}

	// Right after a turn completes the grace window stretches the timeout.
	session.conv.MarkTurnComplete()
	want := time.Minute + 3*time.Second
	if got := session.effectiveTimeout(time.Now()); got != want {
		t.Errorf("Expected extended timeout %v, got %v", want, got)
	}

	// Past the grace window the base timeout applies again.
	if got := session.effectiveTimeout(time.Now().Add(10 * time.Second)); got != time.Minute {
		t.Errorf("Expected base timeout after grace window, got %v", got)
	}
}

func TestMatchesEndPhrase(t *testing.T) {
	positives := []string{"goodbye", "Thanks!", "okay bye", "I'm done"}
	for _, transcript := range positives {
		if !matchesEndPhrase(transcript) {
			t.Errorf("Expected %q to match an end phrase", transcript)
		}
	}

	negatives := []string{"what's the weather", "tell me about dinosaurs"}
	for _, transcript := range negatives {
		if matchesEndPhrase(transcript) {
			t.Errorf("Expected %q not to match an end phrase", transcript)
		}
	}
}

func TestFrameRMS(t *testing.T) {
	if got := frameRMS(make([]int16, 1024)); got != 0 {
		t.Errorf("Expected zero RMS for silence, got %f", got)
	}
	if got := frameRMS(nil); got != 0 {
		t.Errorf("Expected zero RMS for empty frame, got %f", got)
	}

	loud := make([]int16, 1024)
	for i := range loud {
		loud[i] = 1000
	}
	if got := frameRMS(loud); got != 1000 {
		t.Errorf("Expected RMS 1000 for constant frame, got %f", got)
	}
}

func TestPCMBytes(t *testing.T) {
	frame := []int16{0x0102, -2}
	got := pcmBytes(frame)
	want := []byte{0x02, 0x01, 0xfe, 0xff}
	if len(got) != len(want) {
		t.Fatalf("Expected %d bytes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected byte %d to be %#x, got %#x", i, want[i], got[i])
		}
	}
}
