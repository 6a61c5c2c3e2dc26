//go:build whispercpp

package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"audiodesk/internal/media"
)

// BindingsEngine runs whisper.cpp in-process through its Go bindings.
// Loaded models are cached by path and released by Close.
type BindingsEngine struct {
	mu     sync.Mutex
	models map[string]whisper.Model
}

// NewBindingsEngine returns an engine with an empty model cache.
func NewBindingsEngine() (*BindingsEngine, error) {
	return &BindingsEngine{models: map[string]whisper.Model{}}, nil
}

// Name returns the engine identifier.
func (e *BindingsEngine) Name() string { return EngineWhisper }

// LocalModel reports that the bindings load a ggml model file.
func (e *BindingsEngine) LocalModel() bool { return true }

// Transcribe decodes the input, normalizes it to 16 kHz mono float32 and runs
// inference. Cancellation is honored before the model call only.
func (e *BindingsEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	emitStage(req.OnStage, StagePreprocessing)
	samples, err := media.LoadSpeechSamples(req.InputPath)
	if err != nil {
		return nil, &PipelineError{Stage: StagePreprocessing, Message: "failed to read audio", Err: err}
	}

	model, err := e.model(req.ModelPath)
	if err != nil {
		return nil, &PipelineError{Stage: StageTranscribing, Message: "failed to load whisper model", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emitStage(req.OnStage, StageTranscribing)
	wctx, err := model.NewContext()
	if err != nil {
		return nil, &PipelineError{Stage: StageTranscribing, Message: "failed to create whisper context", Err: err}
	}
	if lang := normalizeLanguage(req.Language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, &PipelineError{Stage: StageTranscribing, Message: fmt.Sprintf("unsupported language %q", lang), Err: err}
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &PipelineError{Stage: StageTranscribing, Message: "transcription failed", Err: err}
	}

	emitStage(req.OnStage, StageExporting)
	var segments []Segment
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &PipelineError{Stage: StageExporting, Message: "failed to read segment", Err: err}
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Start: segment.Start, End: segment.End, Text: text})
	}

	result := &Result{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: wctx.Language(),
	}
	if len(segments) > 0 {
		result.Duration = segments[len(segments)-1].End
	}
	return result, nil
}

// Close releases every cached model.
func (e *BindingsEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for path, m := range e.models {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.models, path)
	}
	return firstErr
}

func (e *BindingsEngine) model(path string) (whisper.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.models[path]; ok {
		return m, nil
	}
	m, err := whisper.New(path)
	if err != nil {
		return nil, err
	}
	e.models[path] = m
	return m, nil
}
