package domain

import (
	"fmt"
	"time"
)

// TaskKind names the operation a worker performs.
type TaskKind string

const (
	TaskKindCapture    TaskKind = "capture"
	TaskKindTranscribe TaskKind = "transcribe"
	TaskKindSlice      TaskKind = "slice"
)

// TaskStatus tracks the lifecycle of the single in-flight task.
type TaskStatus string

const (
	TaskStatusIdle      TaskStatus = "idle"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is the executor's record of the current or most recent task.
type Task struct {
	ID        string     `json:"id"`
	Kind      TaskKind   `json:"kind,omitempty"`
	Status    TaskStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt,omitempty"`
}

// TaskParams carries the per-kind inputs of a task request.
// Unused fields are left at their zero value.
type TaskParams struct {
	Path            string `json:"path"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Model           string `json:"model,omitempty"`
	SplitMillis     int    `json:"splitMillis,omitempty"`
}

// TaskRequest is one unit of work handed to the executor. It is copied by
// value into the worker and never mutated afterwards.
type TaskRequest struct {
	Kind   TaskKind   `json:"kind"`
	Params TaskParams `json:"params"`
}

// CaptureRequest builds a capture request for path lasting seconds.
func CaptureRequest(path string, seconds int) TaskRequest {
	return TaskRequest{Kind: TaskKindCapture, Params: TaskParams{Path: path, DurationSeconds: seconds}}
}

// TranscribeRequest builds a transcription request for path using model.
func TranscribeRequest(path, model string) TaskRequest {
	return TaskRequest{Kind: TaskKindTranscribe, Params: TaskParams{Path: path, Model: model}}
}

// SliceRequest builds a slice request splitting path at ms milliseconds.
func SliceRequest(path string, ms int) TaskRequest {
	return TaskRequest{Kind: TaskKindSlice, Params: TaskParams{Path: path, SplitMillis: ms}}
}

// OutcomeStatus tags an Outcome as success or failure.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// Outcome is the terminal result of a task. Exactly one is produced per
// request: Payload is set on success, Message on failure.
type Outcome struct {
	TaskID     string        `json:"taskId"`
	Kind       TaskKind      `json:"kind"`
	Status     OutcomeStatus `json:"status"`
	Payload    string        `json:"payload,omitempty"`
	Message    string        `json:"message,omitempty"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Success builds a successful outcome carrying payload.
func Success(payload string) Outcome {
	return Outcome{Status: OutcomeSuccess, Payload: payload}
}

// Failure builds a failed outcome carrying a human-readable message.
func Failure(message string) Outcome {
	return Outcome{Status: OutcomeFailure, Message: message}
}

// Failuref is Failure with fmt.Sprintf formatting.
func Failuref(format string, args ...any) Outcome {
	return Failure(fmt.Sprintf(format, args...))
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Status == OutcomeSuccess
}

// Settings is the persisted key-value configuration document.
type Settings struct {
	ModelName      string `json:"model_name" yaml:"model_name"`
	RecordDuration int    `json:"record_duration" yaml:"record_duration"`
	SliceTimeMs    int    `json:"slice_time_ms" yaml:"slice_time_ms"`
	OutputFilename string `json:"output_filename" yaml:"output_filename"`

	Engine        string `json:"engine" yaml:"engine"`
	Language      string `json:"language" yaml:"language"`
	ModelsDir     string `json:"models_dir" yaml:"models_dir"`
	TranscriptDir string `json:"transcript_dir" yaml:"transcript_dir"`
	CaptureFormat string `json:"capture_format" yaml:"capture_format"`
	CaptureDevice string `json:"capture_device" yaml:"capture_device"`
	OpenAIBaseURL string `json:"openai_base_url,omitempty" yaml:"openai_base_url,omitempty"`
}
