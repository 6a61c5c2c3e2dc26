// Package transcribe turns audio files into text through pluggable speech
// engines and resolves the model files they need.
package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiodesk/internal/media"
)

// Stages reported through Request.OnStage.
const (
	StagePreprocessing = "preprocessing"
	StageTranscribing  = "transcribing"
	StageExporting     = "exporting"
)

// Request contains input audio, the model to use, and execution callbacks.
type Request struct {
	InputPath string
	// Model is the identifier as configured (catalog id, MLX name or path).
	Model string
	// ModelPath is the resolved local model file. Empty for remote engines.
	ModelPath string
	Language  string
	OnStage   func(stage string)
	OnLog     func(log media.CommandLog)
}

// Segment is a timed span of recognized speech.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Result is the output of one engine run.
type Result struct {
	Text     string        `json:"text"`
	Segments []Segment     `json:"segments,omitempty"`
	Language string        `json:"language,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Engine is a speech-to-text backend.
type Engine interface {
	Name() string
	// LocalModel reports whether the engine reads a model file from disk.
	LocalModel() bool
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string           `json:"stage"`
	Message    string           `json:"message"`
	CommandLog media.CommandLog `json:"commandLog"`
	Err        error            `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func emitStage(cb func(stage string), stage string) {
	if cb != nil {
		cb(stage)
	}
}

// normalizeLanguage maps "auto" and empty language to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// joinSegments builds the plain transcript from segment texts.
func joinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
