// Package bootstrap assembles the executor, controller and primitives from
// persisted settings and exposes them to the desktop, HTTP and CLI surfaces.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"audiodesk/internal/config"
	"audiodesk/internal/controller"
	"audiodesk/internal/diagnostics"
	"audiodesk/internal/domain"
	"audiodesk/internal/jobs"
	"audiodesk/internal/logging"
	"audiodesk/internal/media"
	"audiodesk/internal/transcribe"
)

// EnvOpenAIKey enables the openai engine when set.
const EnvOpenAIKey = "OPENAI_API_KEY"

// Options configures NewServices. Nil collaborators are replaced with the
// real implementations.
type Options struct {
	ConfigPath string
	Store      config.Store
	Logger     zerolog.Logger
	Notifier   controller.Notifier

	Capturer jobs.Capturer
	Slicer   jobs.Slicer
	Engines  []transcribe.Engine
	Checker  *diagnostics.Checker
	Getenv   func(string) string
}

// Services owns one executor, one loop and one controller for the process.
type Services struct {
	Store       config.Store
	Executor    *jobs.Executor
	Controller  *controller.Controller
	Transcriber *transcribe.Service

	checker *diagnostics.Checker
	getenv  func(string) string
	log     zerolog.Logger
	install *installer

	mu        sync.Mutex
	settings  domain.Settings
	report    domain.DiagnosticReport
	notifier  controller.Notifier
	nextSub   int
	listeners map[int]func(controller.State)
}

// NewServices loads settings and wires the task executor around them.
func NewServices(opts Options) (*Services, error) {
	store := opts.Store
	if store == nil {
		store = config.NewFileStore(config.DefaultPath(opts.ConfigPath))
	}
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	checker := opts.Checker
	if checker == nil {
		checker = diagnostics.NewChecker()
	}

	s := &Services{
		Store:     store,
		checker:   checker,
		getenv:    getenv,
		log:       opts.Logger,
		settings:  settings,
		notifier:  opts.Notifier,
		listeners: make(map[int]func(controller.State)),
	}

	engines := opts.Engines
	if engines == nil {
		engines = s.defaultEngines(settings)
	}
	s.Transcriber = transcribe.NewService(transcribeOptions(settings), logging.Component(opts.Logger, "transcribe"), engines...)

	capturer := opts.Capturer
	if capturer == nil {
		capturer = &liveRecorder{settings: s.Settings, log: logging.Component(opts.Logger, "capture")}
	}
	slicer := opts.Slicer
	if slicer == nil {
		slicer = media.NewSlicer(logging.Component(opts.Logger, "slice"))
	}

	loop := jobs.NewLoop(logging.Component(opts.Logger, "loop"))
	s.Executor = jobs.NewExecutor(jobs.Deps{
		Capturer:    capturer,
		Slicer:      slicer,
		Transcriber: s.Transcriber,
		Loop:        loop,
		Events:      jobs.NewEventBus(1000),
		Logger:      logging.Component(opts.Logger, "executor"),
	})
	s.Controller = controller.New(controller.Options{
		Executor: s.Executor,
		Loop:     loop,
		Settings: s.Settings,
		Notifier: controller.NotifierFunc(s.notify),
		OnChange: s.broadcast,
		Logger:   logging.Component(opts.Logger, "controller"),
	})
	s.report = checker.Run(settings)

	return s, nil
}

// Settings returns the active settings.
func (s *Services) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SaveSettings normalizes and persists settings, reconfigures the
// transcriber and reruns diagnostics.
func (s *Services) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := s.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	s.apply(normalized)
	return normalized, nil
}

// ReloadSettings re-reads the store, e.g. after another process edited it.
func (s *Services) ReloadSettings() (domain.Settings, error) {
	settings, err := s.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)
	s.apply(settings)
	return settings, nil
}

// Diagnostics returns the latest cached report.
func (s *Services) Diagnostics() domain.DiagnosticReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// RefreshDiagnostics reruns the checks against the active settings.
func (s *Services) RefreshDiagnostics() domain.DiagnosticReport {
	report := s.checker.Run(s.Settings())
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	return report
}

// SetNotifier replaces the sink for user-facing error notifications.
func (s *Services) SetNotifier(n controller.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// OnStateChange registers fn for controller state updates. fn runs on the
// loop and must not block. The returned func unregisters it.
func (s *Services) OnStateChange(fn func(controller.State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close cancels any running task and drains the loop.
func (s *Services) Close() {
	_ = s.Executor.Cancel()
	s.Executor.Loop().Close()
}

func (s *Services) apply(settings domain.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.Transcriber.Configure(transcribeOptions(settings))
	if key := s.getenv(EnvOpenAIKey); key != "" {
		if engine, err := transcribe.NewOpenAIEngine(key, settings.OpenAIBaseURL); err == nil {
			s.Transcriber.Register(engine)
		}
	}
	s.RefreshDiagnostics()
}

func (s *Services) defaultEngines(settings domain.Settings) []transcribe.Engine {
	engines := []transcribe.Engine{transcribe.NewCLIEngine(transcribe.CLIOptions{})}
	if engine, err := transcribe.NewBindingsEngine(); err == nil {
		engines = append(engines, engine)
	} else {
		s.log.Debug().Err(err).Msg("whisper bindings engine disabled")
	}
	if key := s.getenv(EnvOpenAIKey); key != "" {
		engine, err := transcribe.NewOpenAIEngine(key, settings.OpenAIBaseURL)
		if err != nil {
			s.log.Warn().Err(err).Msg("openai engine disabled")
		} else {
			engines = append(engines, engine)
		}
	}
	return engines
}

func (s *Services) notify(title, message string) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n == nil {
		s.log.Warn().Str("title", title).Msg(message)
		return
	}
	n.Notify(title, message)
}

func (s *Services) broadcast(state controller.State) {
	s.mu.Lock()
	fns := make([]func(controller.State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func transcribeOptions(settings domain.Settings) transcribe.Options {
	return transcribe.Options{
		Engine:       settings.Engine,
		DefaultModel: settings.ModelName,
		Language:     settings.Language,
		ModelsDir:    settings.ModelsDir,
	}
}

// liveRecorder builds the ffmpeg recorder from the settings in effect when
// a capture starts, so capture_format and capture_device edits apply to the
// next recording.
type liveRecorder struct {
	settings func() domain.Settings
	log      zerolog.Logger
}

func (r *liveRecorder) Record(ctx context.Context, req media.CaptureRequest) (bool, error) {
	settings := r.settings()
	recorder := media.NewRecorder(media.CaptureOptions{
		Format: settings.CaptureFormat,
		Device: settings.CaptureDevice,
	}, r.log)
	return recorder.Record(ctx, req)
}
