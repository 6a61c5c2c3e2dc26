package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"audiodesk/internal/domain"
	"audiodesk/internal/media"
	"audiodesk/internal/transcribe"
)

type fakeCapturer struct {
	record func(ctx context.Context, req media.CaptureRequest) (bool, error)
}

func (f *fakeCapturer) Record(ctx context.Context, req media.CaptureRequest) (bool, error) {
	return f.record(ctx, req)
}

type fakeSlicer struct {
	slice func(src string, splitMs int) (string, string, error)
}

func (f *fakeSlicer) Slice(src string, splitMs int) (string, string, error) {
	return f.slice(src, splitMs)
}

type fakeTranscriber struct {
	text string
}

func (f *fakeTranscriber) TranscribeText(ctx context.Context, path, model string) string {
	return f.text
}

// recorder counts callbacks; it is only touched from the loop.
type recorder struct {
	successes []string
	errors    []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSuccess: func(p string) { r.successes = append(r.successes, p) },
		OnError:   func(m string) { r.errors = append(r.errors, m) },
	}
}

func newTestExecutor(t *testing.T, deps Deps) *Executor {
	t.Helper()
	deps.Logger = zerolog.Nop()
	exec := NewExecutor(deps)
	t.Cleanup(exec.Loop().Close)
	return exec
}

// finish waits for the handle and drains the loop so callbacks have run.
func finish(t *testing.T, exec *Executor, h *Handle) domain.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("task %s did not finish: %v", h.ID, err)
	}
	exec.Loop().Do(func() {})
	return outcome
}

func TestSubmitReturnsBeforeWorkCompletes(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
		close(started)
		<-release
		return true, nil
	}}})

	var rec recorder
	h, err := exec.Submit(context.Background(), domain.CaptureRequest("a.wav", 5), rec.callbacks())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	if _, done := h.Outcome(); done {
		t.Fatal("handle resolved while work is blocked")
	}
	if !exec.Busy() {
		t.Fatal("executor should report busy")
	}

	close(release)
	outcome := finish(t, exec, h)
	if !outcome.OK() || outcome.Payload != "a.wav" || outcome.TaskID != h.ID {
		t.Fatalf("outcome = %+v", outcome)
	}
}

// TestCaptureOutcomes covers the three capture results.
func TestCaptureOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		ok          bool
		err         error
		wantSuccess string
		wantError   string
	}{
		{name: "recorded", ok: true, wantSuccess: "out.wav"},
		{name: "ffmpeg exit", ok: false, wantError: RecordingFailedMessage},
		{name: "start failure", err: errors.New("exec: \"ffmpeg\": executable file not found"), wantError: "executable file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq media.CaptureRequest
			exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
				gotReq = req
				return tt.ok, tt.err
			}}})

			var rec recorder
			h, err := exec.Submit(context.Background(), domain.CaptureRequest("out.wav", 3), rec.callbacks())
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			finish(t, exec, h)

			if gotReq.Path != "out.wav" || gotReq.Seconds != 3 {
				t.Fatalf("capture request = %+v", gotReq)
			}
			if len(rec.successes)+len(rec.errors) != 1 {
				t.Fatalf("callbacks = %+v, want exactly one", rec)
			}
			if tt.wantSuccess != "" && (len(rec.successes) != 1 || rec.successes[0] != tt.wantSuccess) {
				t.Fatalf("successes = %v", rec.successes)
			}
			if tt.wantError != "" && (len(rec.errors) != 1 || !strings.Contains(rec.errors[0], tt.wantError)) {
				t.Fatalf("errors = %v, want %q", rec.errors, tt.wantError)
			}
		})
	}
}

func TestTranscribeMarkerTextIsFailure(t *testing.T) {
	for _, tt := range []struct {
		text string
		ok   bool
	}{
		{"本日は晴天なり", true},
		{transcribe.ErrorMarker + ": ファイルが見つかりません", false},
		{"prefix " + transcribe.ErrorMarker + " suffix", false},
	} {
		exec := newTestExecutor(t, Deps{Transcriber: &fakeTranscriber{text: tt.text}})
		var rec recorder
		h, err := exec.Submit(context.Background(), domain.TranscribeRequest("a.wav", "base"), rec.callbacks())
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		outcome := finish(t, exec, h)
		if outcome.OK() != tt.ok {
			t.Fatalf("text %q: outcome = %+v", tt.text, outcome)
		}
		if tt.ok && (len(rec.successes) != 1 || rec.successes[0] != tt.text) {
			t.Fatalf("successes = %v", rec.successes)
		}
		if !tt.ok && (len(rec.errors) != 1 || rec.errors[0] != tt.text) {
			t.Fatalf("errors = %v", rec.errors)
		}
	}
}

// TestTranscribeMissingFile runs the real service against a missing path.
func TestTranscribeMissingFile(t *testing.T) {
	svc := transcribe.NewService(transcribe.Options{Engine: transcribe.EngineWhisperCLI}, zerolog.Nop())
	exec := newTestExecutor(t, Deps{Transcriber: svc})

	var rec recorder
	h, err := exec.Submit(context.Background(), domain.TranscribeRequest(filepath.Join(t.TempDir(), "missing.wav"), "base"), rec.callbacks())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	finish(t, exec, h)

	if len(rec.successes) != 0 || len(rec.errors) != 1 {
		t.Fatalf("callbacks = %+v", rec)
	}
	if !strings.Contains(rec.errors[0], transcribe.ErrorMarker) {
		t.Fatalf("error = %q, want marker", rec.errors[0])
	}
}

func TestSlicePayloadJoinsPaths(t *testing.T) {
	exec := newTestExecutor(t, Deps{Slicer: &fakeSlicer{slice: func(src string, splitMs int) (string, string, error) {
		if src != "a.wav" || splitMs != 4000 {
			t.Errorf("slice(%q, %d)", src, splitMs)
		}
		return "a-before.wav", "a-after.wav", nil
	}}})

	h, err := exec.Submit(context.Background(), domain.SliceRequest("a.wav", 4000), Callbacks{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	outcome := finish(t, exec, h)
	if outcome.Payload != "a-before.wav\na-after.wav" {
		t.Fatalf("payload = %q", outcome.Payload)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
		panic("device vanished")
	}}})

	var rec recorder
	h, err := exec.Submit(context.Background(), domain.CaptureRequest("a.wav", 1), rec.callbacks())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	finish(t, exec, h)

	if len(rec.errors) != 1 || !strings.Contains(rec.errors[0], "device vanished") {
		t.Fatalf("errors = %v", rec.errors)
	}
	if exec.Busy() {
		t.Fatal("executor should be idle after panic")
	}
	if got := exec.Current().Status; got != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
}

func TestUnsupportedKindAndMissingDeps(t *testing.T) {
	exec := newTestExecutor(t, Deps{})
	for _, req := range []domain.TaskRequest{
		{Kind: "burn"},
		domain.CaptureRequest("a.wav", 1),
		domain.SliceRequest("a.wav", 1),
		domain.TranscribeRequest("a.wav", ""),
	} {
		h, err := exec.Submit(context.Background(), req, Callbacks{})
		if err != nil {
			t.Fatalf("Submit(%s) error = %v", req.Kind, err)
		}
		if outcome := finish(t, exec, h); outcome.OK() {
			t.Fatalf("Submit(%s) outcome = %+v, want failure", req.Kind, outcome)
		}
	}
}

func TestSecondSubmitRejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
		<-release
		return true, nil
	}}})

	h, err := exec.Submit(context.Background(), domain.CaptureRequest("a.wav", 1), Callbacks{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := exec.Submit(context.Background(), domain.CaptureRequest("b.wav", 1), Callbacks{}); !errors.Is(err, ErrTaskAlreadyRunning) {
		t.Fatalf("second Submit() error = %v, want %v", err, ErrTaskAlreadyRunning)
	}

	close(release)
	finish(t, exec, h)

	h2, err := exec.Submit(context.Background(), domain.CaptureRequest("b.wav", 1), Callbacks{})
	if err != nil {
		t.Fatalf("Submit() after completion error = %v", err)
	}
	finish(t, exec, h2)
}

func TestCancelProducesSingleCancelledFailure(t *testing.T) {
	started := make(chan struct{})
	exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
		close(started)
		<-ctx.Done()
		return false, ctx.Err()
	}}})

	if err := exec.Cancel(); !errors.Is(err, ErrNoRunningTask) {
		t.Fatalf("Cancel() while idle = %v, want %v", err, ErrNoRunningTask)
	}

	var rec recorder
	h, err := exec.Submit(context.Background(), domain.CaptureRequest("a.wav", 60), rec.callbacks())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	if err := exec.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	finish(t, exec, h)

	if len(rec.successes) != 0 || len(rec.errors) != 1 || rec.errors[0] != CancelledMessage {
		t.Fatalf("callbacks = %+v", rec)
	}
	if got := exec.Current().Status; got != domain.TaskStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}

// TestCallbackRunsOnLoop verifies delivery waits for the loop, not the worker.
func TestCallbackRunsOnLoop(t *testing.T) {
	exec := newTestExecutor(t, Deps{Transcriber: &fakeTranscriber{text: "ok"}})
	gate := make(chan struct{})
	exec.Loop().Post(func() { <-gate })

	var rec recorder
	h, err := exec.Submit(context.Background(), domain.TranscribeRequest("a.wav", ""), rec.callbacks())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-h.Done()

	var seen int
	close(gate)
	exec.Loop().Do(func() { seen = len(rec.successes) })
	if seen != 1 {
		t.Fatalf("successes = %d, want 1", seen)
	}
}

// TestEveryTaskResolvesExactlyOnce runs many tasks and counts callbacks.
func TestEveryTaskResolvesExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	n := 0
	exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		switch n % 3 {
		case 0:
			return true, nil
		case 1:
			return false, nil
		default:
			return false, fmt.Errorf("fault %d", n)
		}
	}}})

	var rec recorder
	for i := 0; i < 30; i++ {
		h, err := exec.Submit(context.Background(), domain.CaptureRequest("a.wav", 1), rec.callbacks())
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		finish(t, exec, h)
	}
	if got := len(rec.successes) + len(rec.errors); got != 30 {
		t.Fatalf("callbacks = %d, want 30", got)
	}
	if len(rec.successes) != 10 {
		t.Fatalf("successes = %d, want 10", len(rec.successes))
	}
}

func TestEventsPublished(t *testing.T) {
	exec := newTestExecutor(t, Deps{Capturer: &fakeCapturer{record: func(ctx context.Context, req media.CaptureRequest) (bool, error) {
		req.OnLog(media.CommandLog{Command: "ffmpeg", ExitCode: 0})
		return true, nil
	}}})

	h, err := exec.Submit(context.Background(), domain.CaptureRequest("a.wav", 1), Callbacks{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	finish(t, exec, h)

	var types []EventType
	for _, e := range exec.Events().Since(0) {
		if e.TaskID != h.ID {
			t.Fatalf("event for wrong task: %+v", e)
		}
		types = append(types, e.Type)
	}
	want := []EventType{EventTypeStatus, EventTypeLog, EventTypeResult, EventTypeStatus}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
}
