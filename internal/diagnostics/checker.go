// Package diagnostics checks that the tools, models and directories the
// configured engine needs are present.
package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"audiodesk/internal/domain"
	"audiodesk/internal/transcribe"
)

// Diagnostic item ids.
const (
	ItemFFmpeg        = "tool_ffmpeg"
	ItemWhisperCLI    = "tool_whisper-cli"
	ItemEngine        = "engine"
	ItemModel         = "model"
	ItemTranscriptDir = "transcript_dir"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath     func(string) (string, error)
	getenv       func(string) string
	resolveModel func(name, modelsDir string) (string, error)
	mkdirAll     func(string, os.FileMode) error
	createTemp   func(string, string) (*os.File, error)
	remove       func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:     exec.LookPath,
		getenv:       os.Getenv,
		resolveModel: transcribe.ResolveModel,
		mkdirAll:     os.MkdirAll,
		createTemp:   os.CreateTemp,
		remove:       os.Remove,
	}
}

// Run executes all checks for settings and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(ItemFFmpeg, "ffmpeg", true),
		c.checkTool(ItemWhisperCLI, transcribe.EngineWhisperCLI, settings.Engine == transcribe.EngineWhisperCLI),
		c.checkEngine(settings.Engine),
		c.checkModel(settings),
		c.checkTranscriptDir(settings.TranscriptDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a CLI executable is on PATH when required.
func (c *Checker) checkTool(id, name string, required bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}
	if !required {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "Not used by the configured engine."
		return item
	}

	path, err := c.lookPath(name)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", name)
		item.Hint = "Install it and ensure the binary is available on PATH."
		item.Fixable = true
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkEngine verifies the configured engine can run in this build.
func (c *Checker) checkEngine(engine string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: ItemEngine, Name: "Transcription engine"}

	switch engine {
	case transcribe.EngineWhisperCLI:
		item.Status = domain.DiagnosticStatusPass
		item.Message = "Using the whisper.cpp command-line tool."
	case transcribe.EngineWhisper:
		if _, err := transcribe.NewBindingsEngine(); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = err.Error()
			item.Hint = `Set engine to "whisper-cli" or build with -tags whispercpp.`
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = "Using in-process whisper.cpp bindings."
	case transcribe.EngineOpenAI:
		if strings.TrimSpace(c.getenv("OPENAI_API_KEY")) == "" {
			item.Status = domain.DiagnosticStatusFail
			item.Message = "OPENAI_API_KEY is not set."
			item.Hint = "Export an API key for the OpenAI-compatible endpoint."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = "Using the OpenAI audio API."
	default:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Unknown engine: %q", engine)
		item.Hint = fmt.Sprintf("Use one of %s, %s, %s.", transcribe.EngineWhisperCLI, transcribe.EngineWhisper, transcribe.EngineOpenAI)
	}
	return item
}

// checkModel validates that the configured model resolves to a file.
func (c *Checker) checkModel(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: ItemModel, Name: "Model"}

	if settings.Engine == transcribe.EngineOpenAI {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "Remote engine, no local model needed."
		return item
	}

	path, err := c.resolveModel(settings.ModelName, settings.ModelsDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		if _, known := transcribe.LookupModel(settings.ModelName); known {
			item.Hint = "Download the model from the catalog."
			item.Fixable = true
		} else {
			item.Hint = "Set model_name to a catalog id, a model file or a directory containing .bin/.gguf files."
		}
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model file found: %s", path)
	return item
}

// checkTranscriptDir validates directory existence and write access.
func (c *Checker) checkTranscriptDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: ItemTranscriptDir, Name: "Transcript directory"}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Transcript directory is empty."
		item.Hint = "Set transcript_dir to where transcription.txt should be written."
		item.Fixable = true
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create transcript directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Transcript directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory for transcripts."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	getenv func(string) string,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:     lookPath,
		getenv:       getenv,
		resolveModel: transcribe.ResolveModel,
		mkdirAll:     mkdirAll,
		createTemp:   createTemp,
		remove:       remove,
	}
}

