// Package controller holds interface state and turns user actions into
// executor tasks. Every state change happens on the jobs loop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"audiodesk/internal/config"
	"audiodesk/internal/domain"
	"audiodesk/internal/jobs"
)

// TranscriptFileName is the file transcripts are saved to inside the
// configured transcript directory.
const TranscriptFileName = "transcription.txt"

// ErrInvalidInput is returned when a numeric field is not a non-negative
// whole number.
var ErrInvalidInput = errors.New("invalid input: enter a non-negative whole number")

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Submitter is the subset of jobs.Executor the controller drives.
type Submitter interface {
	Submit(ctx context.Context, req domain.TaskRequest, cb jobs.Callbacks) (*jobs.Handle, error)
	Cancel() error
}

// Notifier surfaces failures to the user, e.g. as a modal dialog.
type Notifier interface {
	Notify(title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, message string)

// Notify calls f.
func (f NotifierFunc) Notify(title, message string) { f(title, message) }

// State is the interface model: control availability, status text and the
// latest results.
type State struct {
	RecordEnabled     bool            `json:"recordEnabled"`
	SliceEnabled      bool            `json:"sliceEnabled"`
	TranscribeEnabled bool            `json:"transcribeEnabled"`
	Busy              bool            `json:"busy"`
	ActiveKind        domain.TaskKind `json:"activeKind,omitempty"`
	Status            string          `json:"status"`
	LastRecording     string          `json:"lastRecording,omitempty"`
	SliceBefore       string          `json:"sliceBefore,omitempty"`
	SliceAfter        string          `json:"sliceAfter,omitempty"`
	Transcript        string          `json:"transcript,omitempty"`
	TranscriptPath    string          `json:"transcriptPath,omitempty"`
	LastError         string          `json:"lastError,omitempty"`
}

// Options wires a Controller.
type Options struct {
	Executor Submitter
	Loop     *jobs.Loop
	// Settings returns the current configuration; called on the loop.
	Settings func() domain.Settings
	Notifier Notifier
	// OnChange receives a copy of the state after every change, on the loop.
	OnChange func(State)
	Logger   zerolog.Logger
}

// Controller owns State. Public methods may be called from any goroutine
// except the loop itself.
type Controller struct {
	exec     Submitter
	loop     *jobs.Loop
	settings func() domain.Settings
	notifier Notifier
	onChange func(State)
	log      zerolog.Logger

	state State
}

// New returns a controller with every control enabled.
func New(opts Options) *Controller {
	c := &Controller{
		exec:     opts.Executor,
		loop:     opts.Loop,
		settings: opts.Settings,
		notifier: opts.Notifier,
		onChange: opts.OnChange,
		log:      opts.Logger,
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(title, message string) {
			c.log.Warn().Str("title", title).Msg(message)
		})
	}
	c.state = State{RecordEnabled: true, SliceEnabled: true, TranscribeEnabled: true, Status: "ready"}
	return c
}

// ParseNonNegative validates input against ^[0-9]+$ and converts it.
func ParseNonNegative(input string) (int, error) {
	trimmed := strings.TrimSpace(input)
	if !digitsOnly.MatchString(trimmed) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInput, input)
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInput, input)
	}
	return n, nil
}

// Record captures durationInput seconds into the configured output file.
func (c *Controller) Record(durationInput string) (*jobs.Handle, error) {
	seconds, err := c.validate(durationInput)
	if err != nil {
		return nil, err
	}

	var h *jobs.Handle
	c.loop.Do(func() {
		path := c.settings().OutputFilename
		h, err = c.start(domain.CaptureRequest(path, seconds), fmt.Sprintf("recording %ds to %s", seconds, path), func(payload string) {
			c.state.LastRecording = payload
			c.state.Status = "recorded: " + payload
		})
	})
	return h, err
}

// Slice splits path at splitInput milliseconds. An empty path uses the
// latest recording, then the configured output file.
func (c *Controller) Slice(path, splitInput string) (*jobs.Handle, error) {
	ms, err := c.validate(splitInput)
	if err != nil {
		return nil, err
	}

	var h *jobs.Handle
	c.loop.Do(func() {
		src := c.sourcePath(path)
		h, err = c.start(domain.SliceRequest(src, ms), fmt.Sprintf("slicing %s at %dms", src, ms), func(payload string) {
			before, after, _ := strings.Cut(payload, "\n")
			c.state.SliceBefore = before
			c.state.SliceAfter = after
			c.state.Status = "sliced: " + before + ", " + after
		})
	})
	return h, err
}

// Transcribe converts path to text with the configured model and saves the
// transcript. An empty path uses the latest recording, then the configured
// output file.
func (c *Controller) Transcribe(path string) (*jobs.Handle, error) {
	var h *jobs.Handle
	var err error
	c.loop.Do(func() {
		src := c.sourcePath(path)
		model := c.settings().ModelName
		h, err = c.start(domain.TranscribeRequest(src, model), "transcribing "+src, func(payload string) {
			c.state.Transcript = payload
			c.state.Status = "transcription complete"
			saved, saveErr := c.saveTranscript(payload)
			if saveErr != nil {
				c.state.LastError = saveErr.Error()
				c.notifier.Notify("Save failed", saveErr.Error())
				return
			}
			c.state.TranscriptPath = saved
			c.state.Status = "transcript saved to " + saved
		})
	})
	return h, err
}

// Cancel stops the running task. Controls are re-enabled when its
// cancellation outcome arrives.
func (c *Controller) Cancel() error {
	return c.exec.Cancel()
}

// Snapshot returns a copy of the state.
func (c *Controller) Snapshot() State {
	var s State
	c.loop.Do(func() { s = c.state })
	return s
}

// validate parses input and, on failure, reports it in the status text
// without submitting anything.
func (c *Controller) validate(input string) (int, error) {
	n, err := ParseNonNegative(input)
	if err != nil {
		c.loop.Do(func() {
			c.state.Status = ErrInvalidInput.Error()
			c.publish()
		})
		return 0, err
	}
	return n, nil
}

func (c *Controller) sourcePath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if c.state.LastRecording != "" {
		return c.state.LastRecording
	}
	return c.settings().OutputFilename
}

// start disables the controls, submits req and installs callbacks that
// re-enable them on either outcome. Runs on the loop.
func (c *Controller) start(req domain.TaskRequest, status string, onSuccess func(payload string)) (*jobs.Handle, error) {
	if c.state.Busy {
		return nil, jobs.ErrTaskAlreadyRunning
	}

	c.setBusy(req.Kind, status)
	h, err := c.exec.Submit(context.Background(), req, jobs.Callbacks{
		OnSuccess: func(payload string) {
			c.setIdle()
			c.state.LastError = ""
			onSuccess(payload)
			c.publish()
		},
		OnError: func(message string) {
			c.setIdle()
			c.state.LastError = message
			c.state.Status = "error: " + message
			c.notifier.Notify(errorTitle(req.Kind), message)
			c.publish()
		},
	})
	if err != nil {
		c.setIdle()
		c.state.LastError = err.Error()
		c.state.Status = "error: " + err.Error()
		c.publish()
		return nil, err
	}

	c.log.Debug().Str("task_id", h.ID).Str("kind", string(req.Kind)).Msg("task started")
	c.publish()
	return h, nil
}

func (c *Controller) setBusy(kind domain.TaskKind, status string) {
	c.state.Busy = true
	c.state.ActiveKind = kind
	c.state.RecordEnabled = false
	c.state.SliceEnabled = false
	c.state.TranscribeEnabled = false
	c.state.Status = status
}

func (c *Controller) setIdle() {
	c.state.Busy = false
	c.state.ActiveKind = ""
	c.state.RecordEnabled = true
	c.state.SliceEnabled = true
	c.state.TranscribeEnabled = true
}

func (c *Controller) saveTranscript(text string) (string, error) {
	dir := strings.TrimSpace(c.settings().TranscriptDir)
	if dir == "" {
		dir = config.DefaultTranscriptDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, TranscriptFileName)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript %s: %w", path, err)
	}
	return path, nil
}

func (c *Controller) publish() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

func errorTitle(kind domain.TaskKind) string {
	switch kind {
	case domain.TaskKindCapture:
		return "Recording failed"
	case domain.TaskKindSlice:
		return "Slice failed"
	case domain.TaskKindTranscribe:
		return "Transcription failed"
	default:
		return "Task failed"
	}
}
