package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hitaco/assistant/domain/entities"
	"github.com/hitaco/assistant/domain/repositories"
	"github.com/hitaco/assistant/usecase/dialogue"
)

type fakeDetector struct {
	mu         sync.Mutex
	detections int
	started    int
	stopped    int
}

func (f *fakeDetector) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

// Poll reports one detection, then fails the second listen so Run exits.
func (f *fakeDetector) Poll() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections++
	if f.detections == 1 {
		return "hi taco", true, nil
	}
	return "", false, errors.New("microphone gone")
}

func (f *fakeDetector) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

type fakeClipPlayer struct {
	mu    sync.Mutex
	clips []string
}

func (f *fakeClipPlayer) Play(path string) (repositories.PlaybackHandle, error) {
	return nil, errors.New("not used")
}

func (f *fakeClipPlayer) PlayClip(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clips = append(f.clips, path)
	return nil
}

func (f *fakeClipPlayer) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clips...)
}

type fakeTransport struct {
	events chan repositories.TransportEvent
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan repositories.TransportEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, cfg repositories.SessionConfig) error {
	return nil
}

func (f *fakeTransport) SendAudio(pcm []byte) error { return nil }
func (f *fakeTransport) SendText(text string) error { return nil }

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

type fakeInput struct {
	closed chan struct{}
	once   sync.Once
}

func (f *fakeInput) ReadFrame() ([]int16, error) {
	select {
	case <-f.closed:
		return nil, errors.New("input closed")
	case <-time.After(time.Millisecond):
	}
	return make([]int16, 1024), nil
}

func (f *fakeInput) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeOutput struct{}

func (f *fakeOutput) Write(pcm []byte) error { return nil }
func (f *fakeOutput) Close() error           { return nil }

type fakeClaim struct {
	input *fakeInput
}

func (f *fakeClaim) OpenInput(sampleRate, frameLength int) (repositories.InputStream, error) {
	return f.input, nil
}

func (f *fakeClaim) OpenOutput(sampleRate int) (repositories.OutputStream, error) {
	return &fakeOutput{}, nil
}

func (f *fakeClaim) Release() error {
	f.input.Close()
	return nil
}

type fakeDevice struct{}

func (f *fakeDevice) Acquire(owner string) (repositories.AudioClaim, error) {
	return &fakeClaim{input: &fakeInput{closed: make(chan struct{})}}, nil
}

func chimeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("Failed to write chime file: %v", err)
	}
	return path
}

func TestRunOneConversationCycle(t *testing.T) {
	detector := &fakeDetector{}
	player := &fakeClipPlayer{}
	ack := chimeFile(t, "ack.wav")
	bye := chimeFile(t, "bye.wav")

	var sessions []*dialogue.Session
	factory := func() *dialogue.Session {
		transport := newFakeTransport()
		transport.events <- repositories.TranscriptEvent{Transcript: "goodbye"}
		session := dialogue.NewSession(transport, &fakeDevice{}, nil, dialogue.Config{
			SilenceTimeout: time.Minute,
		}, zap.NewNop())
		sessions = append(sessions, session)
		return session
	}

	orch := NewOrchestrator(detector, player, nil, factory, Config{
		AckSound: ack,
		ByeSound: bye,
	}, zap.NewNop())

	err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("Expected Run to exit with the detector error")
	}

	if len(sessions) != 1 {
		t.Fatalf("Expected exactly 1 conversation, got %d", len(sessions))
	}
	conv := sessions[0].Conversation()
	if conv.State() != entities.ConversationClosed {
		t.Errorf("Expected conversation to be closed, got %s", conv.State())
	}
	if conv.EndReason() != entities.EndReasonUserPhrase {
		t.Errorf("Expected end reason %s, got %s", entities.EndReasonUserPhrase, conv.EndReason())
	}

	clips := player.played()
	if len(clips) != 2 || clips[0] != ack || clips[1] != bye {
		t.Errorf("Expected ack then bye chime, got %v", clips)
	}

	if orch.State() != StateStopped {
		t.Errorf("Expected stopped state after Run, got %s", orch.State())
	}
}

func TestMissingChimeFileIsNotFatal(t *testing.T) {
	detector := &fakeDetector{}
	player := &fakeClipPlayer{}

	factory := func() *dialogue.Session {
		transport := newFakeTransport()
		transport.events <- repositories.TranscriptEvent{Transcript: "goodbye"}
		return dialogue.NewSession(transport, &fakeDevice{}, nil, dialogue.Config{
			SilenceTimeout: time.Minute,
		}, zap.NewNop())
	}

	orch := NewOrchestrator(detector, player, nil, factory, Config{
		AckSound: "/nonexistent/ack.wav",
		ByeSound: "/nonexistent/bye.wav",
	}, zap.NewNop())

	if err := orch.Run(context.Background()); err == nil {
		t.Fatal("Expected Run to exit with the detector error")
	}

	if clips := player.played(); len(clips) != 0 {
		t.Errorf("Expected no chimes played, got %v", clips)
	}
}

func TestOverallTimeoutForcesStop(t *testing.T) {
	detector := &fakeDetector{}
	player := &fakeClipPlayer{}

	var sessions []*dialogue.Session
	factory := func() *dialogue.Session {
		// The transport never produces a transcript, so only the overall
		// deadline can end this conversation.
		session := dialogue.NewSession(newFakeTransport(), &fakeDevice{}, nil, dialogue.Config{
			SilenceTimeout: time.Hour,
		}, zap.NewNop())
		sessions = append(sessions, session)
		return session
	}

	orch := NewOrchestrator(detector, player, nil, factory, Config{
		OverallTimeout: 100 * time.Millisecond,
	}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Expected Run to finish after the forced stop")
	}

	if len(sessions) != 1 {
		t.Fatalf("Expected exactly 1 conversation, got %d", len(sessions))
	}
	if reason := sessions[0].Conversation().EndReason(); reason != entities.EndReasonDeadline {
		t.Errorf("Expected end reason %s, got %s", entities.EndReasonDeadline, reason)
	}
}

// flakyDetector fails its first polls, then detects, then fails for good.
type flakyDetector struct {
	mu       sync.Mutex
	polls    int
	starts   int
	stops    int
	glitches int
}

func (f *flakyDetector) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *flakyDetector) Poll() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	switch {
	case f.polls <= f.glitches:
		return "", false, errors.New("input device glitch")
	case f.polls == f.glitches+1:
		return "hi taco", true, nil
	default:
		return "", false, errors.New("microphone gone")
	}
}

func (f *flakyDetector) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func TestTransientPollErrorKeepsListening(t *testing.T) {
	detector := &flakyDetector{glitches: 2}
	player := &fakeClipPlayer{}

	var sessions []*dialogue.Session
	factory := func() *dialogue.Session {
		transport := newFakeTransport()
		transport.events <- repositories.TranscriptEvent{Transcript: "goodbye"}
		session := dialogue.NewSession(transport, &fakeDevice{}, nil, dialogue.Config{
			SilenceTimeout: time.Minute,
		}, zap.NewNop())
		sessions = append(sessions, session)
		return session
	}

	orch := NewOrchestrator(detector, player, nil, factory, Config{}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected Run to exit with the persistent detector error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Expected Run to finish")
	}

	// The two glitches before the detection must not prevent the
	// conversation from happening.
	if len(sessions) != 1 {
		t.Fatalf("Expected exactly 1 conversation despite transient poll errors, got %d", len(sessions))
	}

	detector.mu.Lock()
	starts := detector.starts
	detector.mu.Unlock()
	if starts < 3 {
		t.Errorf("Expected the listener to be restarted after each glitch, got %d starts", starts)
	}
}

func TestContextCancelStopsListening(t *testing.T) {
	detector := &fakeDetector{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := NewOrchestrator(detector, &fakeClipPlayer{}, nil, nil, Config{}, zap.NewNop())
	if err := orch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
