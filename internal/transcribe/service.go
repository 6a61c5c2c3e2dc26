package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"audiodesk/internal/media"
)

// EngineWhisper names the in-process whisper.cpp engine.
const EngineWhisper = "whisper"

// ErrorMarker prefixes every failure string TranscribeText returns. Callers
// that only see text detect failure by looking for it.
const ErrorMarker = "エラー"

var (
	// ErrUnknownEngine is returned when the configured engine is not registered.
	ErrUnknownEngine = errors.New("unknown transcription engine")

	fileNotFoundText = ErrorMarker + ": ファイルが見つかりません"
)

// Options selects the engine and model defaults used by Service.
type Options struct {
	Engine       string
	DefaultModel string
	Language     string
	ModelsDir    string
}

// Service routes transcription requests to the configured engine and
// resolves model identifiers to files.
type Service struct {
	mu      sync.RWMutex
	engines map[string]Engine
	opts    Options
	stat    func(string) (os.FileInfo, error)
	log     zerolog.Logger
}

// NewService builds a service with the given engines registered.
func NewService(opts Options, logger zerolog.Logger, engines ...Engine) *Service {
	s := &Service{
		engines: make(map[string]Engine, len(engines)),
		opts:    opts,
		stat:    os.Stat,
		log:     logger,
	}
	for _, e := range engines {
		s.engines[e.Name()] = e
	}
	return s
}

// Register adds or replaces an engine.
func (s *Service) Register(e Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[e.Name()] = e
}

// Configure replaces the options, e.g. after settings were edited.
func (s *Service) Configure(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// Options returns the active options.
func (s *Service) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Engines lists registered engine names in sorted order.
func (s *Service) Engines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transcribe runs the configured engine on path. An empty model falls back
// to the default model. The engine is not invoked when path does not exist.
func (s *Service) Transcribe(ctx context.Context, path, model string) (*Result, error) {
	opts := s.Options()

	if _, err := s.stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", media.ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("cannot access %s: %w", path, err)
	}

	s.mu.RLock()
	engine, ok := s.engines[opts.Engine]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}

	if strings.TrimSpace(model) == "" {
		model = opts.DefaultModel
	}
	req := Request{
		InputPath: path,
		Model:     model,
		Language:  opts.Language,
		OnStage: func(stage string) {
			s.log.Debug().Str("engine", engine.Name()).Str("stage", stage).Msg("transcription stage")
		},
		OnLog: func(l media.CommandLog) {
			s.log.Debug().Str("cmd", l.String()).Int("exit", l.ExitCode).Msg("command finished")
		},
	}
	if engine.LocalModel() {
		modelPath, err := ResolveModel(model, opts.ModelsDir)
		if err != nil {
			return nil, err
		}
		req.ModelPath = modelPath
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.log.Info().Str("engine", engine.Name()).Str("path", path).Str("model", model).Msg("transcription started")
	result, err := engine.Transcribe(ctx, req)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("transcription failed")
		return nil, err
	}
	s.log.Info().Str("path", path).Int("chars", len(result.Text)).Msg("transcription finished")
	return result, nil
}

// TranscribeText is Transcribe collapsed to a single string. Failures come
// back as text containing ErrorMarker rather than as an error.
func (s *Service) TranscribeText(ctx context.Context, path, model string) string {
	result, err := s.Transcribe(ctx, path, model)
	if errors.Is(err, media.ErrSourceNotFound) {
		return fileNotFoundText
	}
	if err != nil {
		return fmt.Sprintf("%sが発生しました: %v", ErrorMarker, err)
	}
	return result.Text
}

// IsErrorText reports whether text returned by TranscribeText is a failure.
func IsErrorText(text string) bool {
	return strings.Contains(text, ErrorMarker)
}
