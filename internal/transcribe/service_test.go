package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeEngine records requests and returns canned output.
type fakeEngine struct {
	name   string
	local  bool
	text   string
	err    error
	calls  int
	lastRq Request
}

func (f *fakeEngine) Name() string     { return f.name }
func (f *fakeEngine) LocalModel() bool { return f.local }
func (f *fakeEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	f.calls++
	f.lastRq = req
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Text: f.text}, nil
}

func newTestService(t *testing.T, engine *fakeEngine) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	modelsDir := filepath.Join(root, "models")
	mustWriteFile(t, filepath.Join(modelsDir, "ggml-base.bin"), "model")
	svc := NewService(Options{
		Engine:       engine.name,
		DefaultModel: "base",
		Language:     "ja",
		ModelsDir:    modelsDir,
	}, zerolog.Nop(), engine)
	return svc, root
}

func TestTranscribeTextSuccess(t *testing.T) {
	engine := &fakeEngine{name: EngineWhisperCLI, local: true, text: "本日の講義"}
	svc, root := newTestService(t, engine)
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "RIFF")

	text := svc.TranscribeText(context.Background(), input, "mlx-community/whisper-base-mlx")
	if text != "本日の講義" {
		t.Fatalf("text = %q", text)
	}
	if IsErrorText(text) {
		t.Fatal("success text flagged as error")
	}
	if want := filepath.Join(root, "models", "ggml-base.bin"); engine.lastRq.ModelPath != want {
		t.Fatalf("model path = %q, want %q", engine.lastRq.ModelPath, want)
	}
	if engine.lastRq.Language != "ja" {
		t.Fatalf("language = %q", engine.lastRq.Language)
	}
}

func TestTranscribeTextMissingFileSkipsEngine(t *testing.T) {
	engine := &fakeEngine{name: EngineWhisperCLI, local: true}
	svc, root := newTestService(t, engine)

	text := svc.TranscribeText(context.Background(), filepath.Join(root, "missing.wav"), "")
	if !strings.Contains(text, ErrorMarker) {
		t.Fatalf("text = %q, want marker", text)
	}
	if engine.calls != 0 {
		t.Fatalf("engine called %d times, want 0", engine.calls)
	}
}

func TestTranscribeTextEngineErrorHasMarker(t *testing.T) {
	engine := &fakeEngine{name: EngineWhisperCLI, local: true, err: errors.New("decoder exploded")}
	svc, root := newTestService(t, engine)
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "RIFF")

	text := svc.TranscribeText(context.Background(), input, "")
	if !IsErrorText(text) || !strings.Contains(text, "decoder exploded") {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeUnresolvedModel(t *testing.T) {
	engine := &fakeEngine{name: EngineWhisperCLI, local: true}
	svc, root := newTestService(t, engine)
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "RIFF")

	_, err := svc.Transcribe(context.Background(), input, "large-v3")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("error = %v, want ErrModelNotFound", err)
	}
	if engine.calls != 0 {
		t.Fatal("engine should not run without a model")
	}
}

func TestTranscribeRemoteEngineSkipsModelResolution(t *testing.T) {
	engine := &fakeEngine{name: EngineOpenAI, text: "remote"}
	svc, root := newTestService(t, engine)
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "RIFF")

	result, err := svc.Transcribe(context.Background(), input, "whisper-1")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if result.Text != "remote" || engine.lastRq.ModelPath != "" || engine.lastRq.Model != "whisper-1" {
		t.Fatalf("result = %+v request = %+v", result, engine.lastRq)
	}
}

func TestTranscribeUnknownEngine(t *testing.T) {
	engine := &fakeEngine{name: EngineWhisperCLI, local: true}
	svc, root := newTestService(t, engine)
	svc.Configure(Options{Engine: "nope"})
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "RIFF")

	if _, err := svc.Transcribe(context.Background(), input, ""); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("error = %v, want ErrUnknownEngine", err)
	}
	if got := svc.Engines(); len(got) != 1 || got[0] != EngineWhisperCLI {
		t.Fatalf("Engines() = %v", got)
	}
}
