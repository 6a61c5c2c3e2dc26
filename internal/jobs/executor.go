package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"audiodesk/internal/domain"
	"audiodesk/internal/media"
	"audiodesk/internal/transcribe"
)

const (
	// RecordingFailedMessage is the failure text when ffmpeg exits non-zero.
	RecordingFailedMessage = "recording failed (ffmpeg error)"
	// CancelledMessage is the failure text of a cancelled task.
	CancelledMessage = "task cancelled"
)

// Capturer records audio to a file.
type Capturer interface {
	Record(ctx context.Context, req media.CaptureRequest) (bool, error)
}

// Slicer splits an audio file in two.
type Slicer interface {
	Slice(src string, splitMs int) (before, after string, err error)
}

// Transcriber turns an audio file into text. Failures are reported in the
// returned text and detected with transcribe.IsErrorText.
type Transcriber interface {
	TranscribeText(ctx context.Context, path, model string) string
}

// Callbacks receive the outcome of a task on the loop. Exactly one of them
// is called per submitted task.
type Callbacks struct {
	OnSuccess func(payload string)
	OnError   func(message string)
}

// Handle refers to one submitted task and resolves exactly once.
type Handle struct {
	ID      string
	Request domain.TaskRequest

	once    sync.Once
	done    chan struct{}
	outcome domain.Outcome
}

// Done is closed once the outcome is known and its callback is queued.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the result and whether the task has finished.
func (h *Handle) Outcome() (domain.Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return domain.Outcome{}, false
	}
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (domain.Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}
}

// Deps are the collaborators an Executor dispatches to.
type Deps struct {
	Capturer    Capturer
	Slicer      Slicer
	Transcriber Transcriber
	Loop        *Loop
	Events      *EventBus
	Logger      zerolog.Logger
}

// Executor runs one task at a time on a worker goroutine and delivers its
// outcome to the loop.
type Executor struct {
	capturer    Capturer
	slicer      Slicer
	transcriber Transcriber
	loop        *Loop
	events      *EventBus
	manager     *Manager
	log         zerolog.Logger
	newID       func() string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecutor builds an executor. A loop and event bus are created when
// Deps leaves them nil.
func NewExecutor(deps Deps) *Executor {
	loop := deps.Loop
	if loop == nil {
		loop = NewLoop(deps.Logger)
	}
	events := deps.Events
	if events == nil {
		events = NewEventBus(0)
	}
	return &Executor{
		capturer:    deps.Capturer,
		slicer:      deps.Slicer,
		transcriber: deps.Transcriber,
		loop:        loop,
		events:      events,
		manager:     NewManager(),
		log:         deps.Logger,
		newID:       uuid.NewString,
	}
}

// Loop returns the loop outcomes are delivered on.
func (e *Executor) Loop() *Loop { return e.loop }

// Events returns the executor's event bus.
func (e *Executor) Events() *EventBus { return e.events }

// Current returns the current or last task.
func (e *Executor) Current() domain.Task { return e.manager.Current() }

// Busy reports whether a task is in flight.
func (e *Executor) Busy() bool { return e.manager.IsRunning() }

// Submit starts req on a new goroutine and returns without waiting. The
// request is copied; ctx contributes values only, use Cancel to stop work.
func (e *Executor) Submit(ctx context.Context, req domain.TaskRequest, cb Callbacks) (*Handle, error) {
	id := e.newID()
	if err := e.manager.Start(id, req.Kind); err != nil {
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	h := &Handle{ID: id, Request: req, done: make(chan struct{})}
	logger := e.log.With().Str("task_id", id).Str("kind", string(req.Kind)).Logger()
	logger.Info().Str("path", req.Params.Path).Msg("task submitted")
	e.events.Publish(Event{TaskID: id, Kind: req.Kind, Type: EventTypeStatus, Status: domain.TaskStatusRunning})

	go func() {
		defer cancel()
		outcome := e.execute(workerCtx, h, logger)
		if workerCtx.Err() != nil {
			outcome = domain.Failure(CancelledMessage)
		}
		e.resolve(h, outcome, cb, logger, workerCtx.Err() != nil)
	}()
	return h, nil
}

// Cancel stops the running task. The task still resolves, with a
// CancelledMessage failure.
func (e *Executor) Cancel() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil || !e.manager.IsRunning() {
		return ErrNoRunningTask
	}
	cancel()
	current := e.manager.Current()
	e.log.Info().Str("task_id", current.ID).Msg("cancel requested")
	e.events.Publish(Event{TaskID: current.ID, Kind: current.Kind, Type: EventTypeStatus, Status: domain.TaskStatusRunning, Message: "cancel requested"})
	return nil
}

// execute dispatches to the primitive for req.Kind. Any error or panic is
// turned into a failure outcome.
func (e *Executor) execute(ctx context.Context, h *Handle, logger zerolog.Logger) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("task panicked")
			out = domain.Failuref("unexpected error: %v", r)
		}
	}()

	p := h.Request.Params
	switch h.Request.Kind {
	case domain.TaskKindCapture:
		if e.capturer == nil {
			return domain.Failure("capture is not configured")
		}
		ok, err := e.capturer.Record(ctx, media.CaptureRequest{
			Path:    p.Path,
			Seconds: p.DurationSeconds,
			OnLog:   e.publishLog(h),
		})
		if err != nil {
			return domain.Failure(err.Error())
		}
		if !ok {
			return domain.Failure(RecordingFailedMessage)
		}
		return domain.Success(p.Path)

	case domain.TaskKindTranscribe:
		if e.transcriber == nil {
			return domain.Failure("transcription is not configured")
		}
		text := e.transcriber.TranscribeText(ctx, p.Path, p.Model)
		if transcribe.IsErrorText(text) {
			return domain.Failure(text)
		}
		return domain.Success(text)

	case domain.TaskKindSlice:
		if e.slicer == nil {
			return domain.Failure("slicing is not configured")
		}
		before, after, err := e.slicer.Slice(p.Path, p.SplitMillis)
		if err != nil {
			return domain.Failure(err.Error())
		}
		return domain.Success(before + "\n" + after)

	default:
		return domain.Failuref("unsupported task kind: %q", h.Request.Kind)
	}
}

// resolve records the outcome, releases the single-flight slot, and queues
// the matching callback on the loop before closing Done.
func (e *Executor) resolve(h *Handle, outcome domain.Outcome, cb Callbacks, logger zerolog.Logger, cancelled bool) {
	h.once.Do(func() {
		outcome.TaskID = h.ID
		outcome.Kind = h.Request.Kind
		outcome.FinishedAt = time.Now().UTC()
		h.outcome = outcome

		status := domain.TaskStatusSucceeded
		switch {
		case cancelled:
			status = domain.TaskStatusCancelled
		case !outcome.OK():
			status = domain.TaskStatusFailed
		}

		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		if err := e.manager.Transition(status); err != nil {
			logger.Warn().Err(err).Msg("task state transition")
		}

		if outcome.OK() {
			logger.Info().Int("payload_len", len(outcome.Payload)).Msg("task succeeded")
			e.events.Publish(Event{TaskID: h.ID, Kind: h.Request.Kind, Type: EventTypeResult, Payload: outcome.Payload})
		} else {
			logger.Error().Str("message", outcome.Message).Msg("task failed")
			e.events.Publish(Event{TaskID: h.ID, Kind: h.Request.Kind, Type: EventTypeError, Message: outcome.Message})
		}
		e.events.Publish(Event{TaskID: h.ID, Kind: h.Request.Kind, Type: EventTypeStatus, Status: status})

		posted := e.loop.Post(func() {
			if outcome.OK() {
				if cb.OnSuccess != nil {
					cb.OnSuccess(outcome.Payload)
				}
				return
			}
			if cb.OnError != nil {
				cb.OnError(outcome.Message)
			}
		})
		if !posted {
			logger.Warn().Msg("loop closed, outcome callback not delivered")
		}
		close(h.done)
	})
}

// publishLog forwards command invocations to the event bus.
func (e *Executor) publishLog(h *Handle) func(media.CommandLog) {
	return func(l media.CommandLog) {
		e.events.Publish(Event{
			TaskID:   h.ID,
			Kind:     h.Request.Kind,
			Type:     EventTypeLog,
			Message:  fmt.Sprintf("%s exited %d", l.Command, l.ExitCode),
			Command:  l.Command,
			Args:     l.Args,
			ExitCode: l.ExitCode,
			Stdout:   l.Stdout,
			Stderr:   l.Stderr,
		})
	}
}
