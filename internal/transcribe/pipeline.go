package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"audiodesk/internal/media"
)

// EngineWhisperCLI names the engine that drives the whisper.cpp executable.
const EngineWhisperCLI = "whisper-cli"

// CLIOptions configures the external binaries used by CLIEngine.
type CLIOptions struct {
	FFmpegPath  string
	WhisperPath string
}

// CLIEngine normalizes input audio to 16 kHz mono WAV and runs the
// whisper.cpp command-line tool on it.
type CLIEngine struct {
	ffmpegPath  string
	whisperPath string
	runner      media.Runner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readFile    func(name string) ([]byte, error)
	toSpeechWAV func(src, dst string) error
}

// NewCLIEngine constructs the production engine with OS dependencies.
func NewCLIEngine(opts CLIOptions) *CLIEngine {
	return NewCLIEngineWithRunner(opts, media.ExecRunner{})
}

// NewCLIEngineWithRunner constructs the engine with an injected process runner.
func NewCLIEngineWithRunner(opts CLIOptions, runner media.Runner) *CLIEngine {
	ffmpegPath := strings.TrimSpace(opts.FFmpegPath)
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	whisperPath := strings.TrimSpace(opts.WhisperPath)
	if whisperPath == "" {
		whisperPath = EngineWhisperCLI
	}
	return &CLIEngine{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		runner:      runner,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readFile:    os.ReadFile,
		toSpeechWAV: media.WriteSpeechWAV,
	}
}

// Name returns the engine identifier.
func (e *CLIEngine) Name() string { return EngineWhisperCLI }

// LocalModel reports that whisper.cpp needs a ggml model file.
func (e *CLIEngine) LocalModel() bool { return true }

// Transcribe performs preprocessing and transcription, returning the
// transcript text whisper.cpp exported.
func (e *CLIEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, &PipelineError{Stage: StagePreprocessing, Message: "input audio path is required"}
	}
	if _, err := e.stat(req.InputPath); err != nil {
		return nil, &PipelineError{
			Stage:   StagePreprocessing,
			Message: fmt.Sprintf("cannot access input audio: %s", req.InputPath),
			Err:     err,
		}
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return nil, &PipelineError{Stage: StageTranscribing, Message: "model path is required"}
	}

	tempDir, err := e.mkdirTemp("", "audiodesk-*")
	if err != nil {
		return nil, &PipelineError{
			Stage:   StagePreprocessing,
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = e.removeAll(tempDir) }()

	emitStage(req.OnStage, StagePreprocessing)
	wavPath := filepath.Join(tempDir, "speech-16k-mono.wav")
	if err := e.preprocess(ctx, req, wavPath); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emitStage(req.OnStage, StageTranscribing)
	textBase := filepath.Join(tempDir, "transcript")
	args := buildWhisperArgs(req.ModelPath, wavPath, textBase, req.Language)
	result, runErr := e.runner.Run(ctx, e.whisperPath, args...)
	log := media.CommandLog{
		Command:  e.whisperPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if req.OnLog != nil {
		req.OnLog(log)
	}
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &PipelineError{
			Stage:      StageTranscribing,
			Message:    "whisper.cpp transcription failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	emitStage(req.OnStage, StageExporting)
	textPath := textBase + ".txt"
	content, err := e.readFile(textPath)
	if err != nil {
		return nil, &PipelineError{
			Stage:      StageExporting,
			Message:    "whisper.cpp completed but transcript .txt file is missing",
			CommandLog: log,
			Err:        err,
		}
	}

	return &Result{
		Text:     strings.TrimSpace(string(content)),
		Language: normalizeLanguage(req.Language),
	}, nil
}

// preprocess writes a 16 kHz mono WAV. Containers the media package decodes
// are converted in-process, anything else goes through ffmpeg.
func (e *CLIEngine) preprocess(ctx context.Context, req Request, outPath string) error {
	switch media.Container(req.InputPath) {
	case "wav", "flac", "mp3":
		if err := e.toSpeechWAV(req.InputPath, outPath); err != nil {
			return &PipelineError{
				Stage:   StagePreprocessing,
				Message: "audio conversion failed",
				Err:     err,
			}
		}
		return nil
	}

	args := buildFFmpegArgs(req.InputPath, outPath)
	result, runErr := e.runner.Run(ctx, e.ffmpegPath, args...)
	log := media.CommandLog{
		Command:  e.ffmpegPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if req.OnLog != nil {
		req.OnLog(log)
	}
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &PipelineError{
			Stage:      StagePreprocessing,
			Message:    "ffmpeg audio conversion failed",
			CommandLog: log,
			Err:        runErr,
		}
	}
	if _, err := e.stat(outPath); err != nil {
		return &PipelineError{
			Stage:      StagePreprocessing,
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	return nil
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-np",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}
