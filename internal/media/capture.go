package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// CaptureSampleRate, CaptureChannels and CaptureCodec fix the recording format.
const (
	CaptureSampleRate = 44100
	CaptureChannels   = 1
	CaptureCodec      = "pcm_s16le"
)

// CaptureOptions configures the ffmpeg binary and input selectors.
// Empty Format/Device fall back to DefaultCaptureInput.
type CaptureOptions struct {
	FFmpegPath string
	Format     string
	Device     string
}

// CaptureRequest is one recording.
type CaptureRequest struct {
	Path    string
	Seconds int
	OnLog   func(CommandLog)
}

// Recorder records from an input device to a WAV file through ffmpeg.
type Recorder struct {
	ffmpegPath string
	format     string
	device     string
	runner     Runner
	stat       func(string) (os.FileInfo, error)
	remove     func(string) error
	log        zerolog.Logger
}

// NewRecorder builds a recorder using the real ffmpeg process.
func NewRecorder(opts CaptureOptions, logger zerolog.Logger) *Recorder {
	return NewRecorderWithRunner(opts, ExecRunner{}, logger)
}

// NewRecorderWithRunner builds a recorder with an injected process runner.
func NewRecorderWithRunner(opts CaptureOptions, runner Runner, logger zerolog.Logger) *Recorder {
	format, device := DefaultCaptureInput(runtime.GOOS)
	if strings.TrimSpace(opts.Format) != "" {
		format = strings.TrimSpace(opts.Format)
	}
	if strings.TrimSpace(opts.Device) != "" {
		device = strings.TrimSpace(opts.Device)
	}
	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	return &Recorder{
		ffmpegPath: ffmpegPath,
		format:     format,
		device:     device,
		runner:     runner,
		stat:       os.Stat,
		remove:     os.Remove,
		log:        logger,
	}
}

// DefaultCaptureInput returns the ffmpeg input format and device for goos.
func DefaultCaptureInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "alsa", "default"
	}
}

// Record captures req.Seconds of audio into req.Path as mono 16-bit 44.1 kHz PCM.
//
// A process that runs and exits non-zero yields (false, nil) and any partial
// output is removed. Errors are returned for invalid requests, cancellation
// and an ffmpeg binary that cannot be started.
func (r *Recorder) Record(ctx context.Context, req CaptureRequest) (bool, error) {
	if strings.TrimSpace(req.Path) == "" {
		return false, errors.New("destination path is required")
	}
	if req.Seconds < 0 {
		return false, fmt.Errorf("duration must not be negative: %d", req.Seconds)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	args := buildCaptureArgs(r.format, r.device, req.Seconds, req.Path)
	r.log.Info().Str("path", req.Path).Int("seconds", req.Seconds).Str("format", r.format).Msg("recording started")

	result, runErr := r.runner.Run(ctx, r.ffmpegPath, args...)
	log := CommandLog{
		Command:  r.ffmpegPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	emitLog(req.OnLog, log)

	if runErr != nil {
		r.discard(req.Path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if IsExitError(runErr) {
			r.log.Error().Int("exit", result.ExitCode).Str("stderr", lastLines(result.Stderr, 5)).Msg("ffmpeg exited with error")
			return false, nil
		}
		return false, &CommandError{Message: "cannot start ffmpeg", CommandLog: log, Err: runErr}
	}

	if _, err := r.stat(req.Path); err != nil {
		r.log.Error().Str("path", req.Path).Msg("ffmpeg completed but output file is missing")
		return false, nil
	}

	r.log.Info().Str("path", req.Path).Msg("recording finished")
	return true, nil
}

func (r *Recorder) discard(path string) {
	if err := r.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn().Err(err).Str("path", path).Msg("remove partial recording")
	}
}

// buildCaptureArgs builds ffmpeg args for a timed device capture.
func buildCaptureArgs(format, device string, seconds int, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", format,
		"-t", strconv.Itoa(seconds),
		"-i", device,
		"-acodec", CaptureCodec,
		"-ar", strconv.Itoa(CaptureSampleRate),
		"-ac", strconv.Itoa(CaptureChannels),
		outPath,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
