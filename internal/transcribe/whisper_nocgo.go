//go:build !whispercpp

package transcribe

import (
	"context"
	"errors"
)

// ErrBindingsUnavailable is returned when the binary was built without the
// whispercpp tag.
var ErrBindingsUnavailable = errors.New("whisper engine not compiled in (rebuild with -tags whispercpp)")

// BindingsEngine is a placeholder for builds without whisper.cpp linked in.
type BindingsEngine struct{}

// NewBindingsEngine always fails in this build.
func NewBindingsEngine() (*BindingsEngine, error) {
	return nil, ErrBindingsUnavailable
}

// Name returns the engine identifier.
func (e *BindingsEngine) Name() string { return EngineWhisper }

// LocalModel reports that the bindings load a ggml model file.
func (e *BindingsEngine) LocalModel() bool { return true }

// Transcribe always fails in this build.
func (e *BindingsEngine) Transcribe(context.Context, Request) (*Result, error) {
	return nil, ErrBindingsUnavailable
}

// Close is a no-op.
func (e *BindingsEngine) Close() error { return nil }
