package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"audiodesk/internal/controller"
	"audiodesk/internal/diagnostics"
	"audiodesk/internal/domain"
	"audiodesk/internal/jobs"
	"audiodesk/internal/media"
	"audiodesk/internal/transcribe"
)

// fakeStore keeps settings in memory and counts saves.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saves++
	return nil
}

// fakeCapturer writes a placeholder file unless ok is false, and blocks on
// gate when set.
type fakeCapturer struct {
	gate  chan struct{}
	ok    bool
	calls int
	mu    sync.Mutex
}

func (f *fakeCapturer) Record(ctx context.Context, req media.CaptureRequest) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if !f.ok {
		return false, nil
	}
	return true, os.WriteFile(req.Path, []byte("RIFF"), 0o644)
}

func (f *fakeCapturer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEngine is a remote engine so no model file is needed.
type fakeEngine struct {
	text string
	err  error
}

func (e *fakeEngine) Name() string     { return transcribe.EngineWhisperCLI }
func (e *fakeEngine) LocalModel() bool { return false }

func (e *fakeEngine) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &transcribe.Result{Text: e.text}, nil
}

type notification struct{ title, message string }

type recordingNotifier struct {
	mu   sync.Mutex
	seen []notification
}

func (n *recordingNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, notification{title, message})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.seen...)
}

func testSettings(t *testing.T) domain.Settings {
	t.Helper()
	root := t.TempDir()
	return domain.Settings{
		ModelName:      "base",
		RecordDuration: 1,
		SliceTimeMs:    100,
		OutputFilename: filepath.Join(root, "output.wav"),
		Engine:         transcribe.EngineWhisperCLI,
		Language:       "auto",
		ModelsDir:      filepath.Join(root, "models"),
		TranscriptDir:  filepath.Join(root, "out"),
	}
}

func testChecker() *diagnostics.Checker {
	return diagnostics.NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		func(string) string { return "" },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
}

func newTestServices(t *testing.T, store *fakeStore, opts Options) *Services {
	t.Helper()
	opts.Store = store
	opts.Logger = zerolog.Nop()
	if opts.Checker == nil {
		opts.Checker = testChecker()
	}
	if opts.Engines == nil {
		opts.Engines = []transcribe.Engine{&fakeEngine{text: "hello"}}
	}
	if opts.Getenv == nil {
		opts.Getenv = func(string) string { return "" }
	}
	svc, err := NewServices(opts)
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func waitIdle(t *testing.T, svc *Services) controller.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state := svc.Controller.Snapshot(); !state.Busy {
			return state
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for controller to become idle")
	return controller.State{}
}

func TestNewServicesBackfillsSettings(t *testing.T) {
	store := &fakeStore{settings: domain.Settings{OutputFilename: "take.wav"}}
	svc := newTestServices(t, store, Options{Capturer: &fakeCapturer{ok: true}})

	settings := svc.Settings()
	if settings.OutputFilename != "take.wav" {
		t.Fatalf("OutputFilename = %q, want take.wav", settings.OutputFilename)
	}
	if settings.ModelName != "base" || settings.Engine != transcribe.EngineWhisperCLI {
		t.Fatalf("defaults not applied: %+v", settings)
	}
	if len(svc.Diagnostics().Items) == 0 {
		t.Fatal("expected startup diagnostics")
	}
}

func TestStartRecordingPublishesStateAndEvents(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	capturer := &fakeCapturer{ok: true}
	svc := newTestServices(t, store, Options{Capturer: capturer})
	app := NewApp(svc, nil)

	var mu sync.Mutex
	var states []controller.State
	stop := svc.OnStateChange(func(state controller.State) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})
	defer stop()

	task, err := app.StartRecording("1")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if task.Kind != domain.TaskKindCapture {
		t.Fatalf("task kind = %q, want capture", task.Kind)
	}

	state := waitIdle(t, svc)
	if state.LastRecording != store.settings.OutputFilename {
		t.Fatalf("LastRecording = %q, want %q", state.LastRecording, store.settings.OutputFilename)
	}
	if !state.RecordEnabled || !state.SliceEnabled || !state.TranscribeEnabled {
		t.Fatalf("controls not re-enabled: %+v", state)
	}

	mu.Lock()
	sawBusy := false
	for _, s := range states {
		if s.Busy && !s.RecordEnabled {
			sawBusy = true
		}
	}
	mu.Unlock()
	if !sawBusy {
		t.Fatal("expected a busy state with controls disabled")
	}

	assertEventTypeExists(t, app.TaskEvents(0), jobs.EventTypeStatus)
	assertEventTypeExists(t, app.TaskEvents(0), jobs.EventTypeResult)
	if got := app.CurrentTask().Status; got != domain.TaskStatusSucceeded {
		t.Fatalf("task status = %q, want succeeded", got)
	}
}

func TestStartRecordingRejectsInvalidInput(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	capturer := &fakeCapturer{ok: true}
	svc := newTestServices(t, store, Options{Capturer: capturer})
	app := NewApp(svc, nil)

	for _, input := range []string{"", "abc", "-1", "1.5"} {
		if _, err := app.StartRecording(input); !errors.Is(err, controller.ErrInvalidInput) {
			t.Fatalf("StartRecording(%q) error = %v, want ErrInvalidInput", input, err)
		}
	}
	if capturer.count() != 0 {
		t.Fatalf("capturer called %d times, want 0", capturer.count())
	}
	if app.GetState().Busy {
		t.Fatal("invalid input must not mark the controller busy")
	}
}

func TestSecondTaskRejectedAndCancel(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	capturer := &fakeCapturer{ok: true, gate: make(chan struct{})}
	notifier := &recordingNotifier{}
	svc := newTestServices(t, store, Options{Capturer: capturer, Notifier: notifier})
	app := NewApp(svc, nil)

	if _, err := app.StartRecording("5"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := app.StartTranscription(""); !errors.Is(err, jobs.ErrTaskAlreadyRunning) {
		t.Fatalf("second task error = %v, want ErrTaskAlreadyRunning", err)
	}

	if err := app.CancelTask(); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	state := waitIdle(t, svc)
	if state.LastError != jobs.CancelledMessage {
		t.Fatalf("LastError = %q, want %q", state.LastError, jobs.CancelledMessage)
	}
	if got := app.CurrentTask().Status; got != domain.TaskStatusCancelled {
		t.Fatalf("task status = %q, want cancelled", got)
	}
	if len(notifier.all()) != 1 {
		t.Fatalf("notifications = %v, want one", notifier.all())
	}
}

func TestRecordingFailureNotifies(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	notifier := &recordingNotifier{}
	svc := newTestServices(t, store, Options{Capturer: &fakeCapturer{ok: false}, Notifier: notifier})
	app := NewApp(svc, nil)

	if _, err := app.StartRecording("1"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	state := waitIdle(t, svc)
	if state.LastError != jobs.RecordingFailedMessage {
		t.Fatalf("LastError = %q, want %q", state.LastError, jobs.RecordingFailedMessage)
	}

	seen := notifier.all()
	if len(seen) != 1 || seen[0].message != jobs.RecordingFailedMessage {
		t.Fatalf("notifications = %v", seen)
	}
}

func TestStartTranscriptionSavesTranscript(t *testing.T) {
	settings := testSettings(t)
	store := &fakeStore{settings: settings}
	svc := newTestServices(t, store, Options{
		Capturer: &fakeCapturer{ok: true},
		Engines:  []transcribe.Engine{&fakeEngine{text: "こんにちは"}},
	})
	app := NewApp(svc, nil)

	input := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(input, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if _, err := app.StartTranscription(input); err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	state := waitIdle(t, svc)

	want := filepath.Join(settings.TranscriptDir, controller.TranscriptFileName)
	if state.TranscriptPath != want {
		t.Fatalf("TranscriptPath = %q, want %q", state.TranscriptPath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "こんにちは" {
		t.Fatalf("transcript = %q", data)
	}
}

func TestStartTranscriptionEngineErrorIsFailure(t *testing.T) {
	settings := testSettings(t)
	store := &fakeStore{settings: settings}
	svc := newTestServices(t, store, Options{
		Capturer: &fakeCapturer{ok: true},
		Engines:  []transcribe.Engine{&fakeEngine{err: errors.New("boom")}},
	})
	app := NewApp(svc, nil)

	input := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(input, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if _, err := app.StartTranscription(input); err != nil {
		t.Fatalf("StartTranscription: %v", err)
	}
	state := waitIdle(t, svc)
	if !transcribe.IsErrorText(state.LastError) {
		t.Fatalf("LastError = %q, want marker text", state.LastError)
	}
	if _, err := os.Stat(filepath.Join(settings.TranscriptDir, controller.TranscriptFileName)); !os.IsNotExist(err) {
		t.Fatalf("transcript must not be written on failure, stat err = %v", err)
	}
	assertEventTypeExists(t, app.TaskEvents(0), jobs.EventTypeError)
}

func TestSaveSettingsNormalizesAndRefreshesDiagnostics(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	svc := newTestServices(t, store, Options{Capturer: &fakeCapturer{ok: true}})
	app := NewApp(svc, nil)

	in := app.GetSettings()
	in.Engine = "bogus"
	in.Language = "  "
	saved, err := app.SaveSettings(in)
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if saved.Language != "auto" {
		t.Fatalf("Language = %q, want auto", saved.Language)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
	if svc.Transcriber.Options().Engine != "bogus" {
		t.Fatalf("transcriber not reconfigured: %+v", svc.Transcriber.Options())
	}

	item, ok := app.GetDiagnostics().Item(diagnostics.ItemEngine)
	if !ok || item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("engine item = %+v, want fail", item)
	}
}

func TestOpenAIEngineRegisteredFromEnvironment(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	svc := newTestServices(t, store, Options{
		Capturer: &fakeCapturer{ok: true},
		Getenv: func(key string) string {
			if key == EnvOpenAIKey {
				return "sk-test"
			}
			return ""
		},
	})

	if _, err := svc.SaveSettings(svc.Settings()); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	found := false
	for _, name := range svc.Transcriber.Engines() {
		if name == transcribe.EngineOpenAI {
			found = true
		}
	}
	if !found {
		t.Fatalf("engines = %v, want openai registered", svc.Transcriber.Engines())
	}
}

func TestRuntimeContextRequiredForDialogs(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	app := NewApp(newTestServices(t, store, Options{Capturer: &fakeCapturer{ok: true}}), nil)

	if _, err := app.PickAudioFile(); err == nil {
		t.Fatal("expected error without runtime context")
	}
	if _, err := app.PickTranscriptDirectory(); err == nil {
		t.Fatal("expected error without runtime context")
	}
}

func TestOpenOutputFolderRejectsMissingPath(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	app := NewApp(newTestServices(t, store, Options{Capturer: &fakeCapturer{ok: true}}), nil)

	if err := app.OpenOutputFolder(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func assertEventTypeExists(t *testing.T, events []jobs.Event, eventType jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == eventType {
			return
		}
	}
	t.Fatalf("event type %s not found in %+v", eventType, events)
}
