package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/controller"
	"audiodesk/internal/domain"
	"audiodesk/internal/jobs"
)

const cancelGrace = 30 * time.Second

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func newRecordCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "record [seconds]",
		Short: "Record from the default input device into output_filename",
		Long: `Record audio through ffmpeg as mono 16-bit 44.1 kHz WAV.

Without an argument the record_duration setting is used.

Examples:
  audiodesk record
  audiodesk record 30`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				input := strconv.Itoa(svc.Settings().RecordDuration)
				if len(args) == 1 {
					input = args[0]
				}
				state, err := runTask(cmd, svc, func() (*jobs.Handle, error) {
					return svc.Controller.Record(input)
				})
				if err != nil {
					return err
				}
				green.Fprintf(cmd.OutOrStdout(), "Recorded %ss to %s\n", input, state.LastRecording)
				return nil
			})
		},
	}
}

func newSliceCmd(s *session) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "slice [path]",
		Short: "Split a WAV or FLAC file in two at a millisecond offset",
		Long: `Split an audio file into <name>-before and <name>-after.

Without a path the configured output_filename is used. Without --at the
slice_time_ms setting is used.

Examples:
  audiodesk slice
  audiodesk slice lecture.wav --at 4000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				input := at
				if input == "" {
					input = strconv.Itoa(svc.Settings().SliceTimeMs)
				}
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				state, err := runTask(cmd, svc, func() (*jobs.Handle, error) {
					return svc.Controller.Slice(path, input)
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "before: %s\n", state.SliceBefore)
				fmt.Fprintf(out, "after:  %s\n", state.SliceAfter)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "split point in milliseconds")
	return cmd
}

func newTranscribeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe [path]",
		Short: "Transcribe an audio file and save transcription.txt",
		Long: `Transcribe an audio file with the configured engine and model.

The transcript is printed and written to <transcript_dir>/transcription.txt.
Without a path the configured output_filename is used.

Examples:
  audiodesk transcribe
  audiodesk transcribe lecture.wav
  audiodesk -c lab.yml transcribe take-2.flac`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				state, err := transcribeAndReport(cmd, svc, path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), state.Transcript)
				return nil
			})
		},
	}
}

func newPipelineCmd(s *session) *cobra.Command {
	var (
		duration string
		at       string
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Record, slice, then transcribe the full take and both halves",
		Long: `Run the full batch sequence one task at a time:

  1. record --duration seconds into output_filename
  2. slice the recording at --at milliseconds
  3. transcribe the full recording, then the before and after halves

Each transcript is printed; transcription.txt holds the last one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				settings := svc.Settings()
				if duration == "" {
					duration = strconv.Itoa(settings.RecordDuration)
				}
				if at == "" {
					at = strconv.Itoa(settings.SliceTimeMs)
				}
				out := cmd.OutOrStdout()

				cyan.Fprintf(out, "== record %ss\n", duration)
				state, err := runTask(cmd, svc, func() (*jobs.Handle, error) {
					return svc.Controller.Record(duration)
				})
				if err != nil {
					return fmt.Errorf("record: %w", err)
				}
				recording := state.LastRecording
				fmt.Fprintf(out, "recorded %s\n", recording)

				cyan.Fprintf(out, "== slice at %sms\n", at)
				state, err = runTask(cmd, svc, func() (*jobs.Handle, error) {
					return svc.Controller.Slice(recording, at)
				})
				if err != nil {
					return fmt.Errorf("slice: %w", err)
				}
				parts := []struct{ label, path string }{
					{"full", recording},
					{"before", state.SliceBefore},
					{"after", state.SliceAfter},
				}

				for _, part := range parts {
					cyan.Fprintf(out, "== transcribe %s (%s)\n", part.label, part.path)
					state, err := transcribeAndReport(cmd, svc, part.path)
					if err != nil {
						return fmt.Errorf("transcribe %s: %w", part.label, err)
					}
					fmt.Fprintln(out, state.Transcript)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&duration, "duration", "", "recording length in seconds (default record_duration)")
	cmd.Flags().StringVar(&at, "at", "", "split point in milliseconds (default slice_time_ms)")
	return cmd
}

func transcribeAndReport(cmd *cobra.Command, svc *bootstrap.Services, path string) (controller.State, error) {
	state, err := runTask(cmd, svc, func() (*jobs.Handle, error) {
		return svc.Controller.Transcribe(path)
	})
	if err != nil {
		return state, err
	}
	if state.TranscriptPath != "" {
		green.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", state.TranscriptPath)
	} else if state.LastError != "" {
		yellow.Fprintf(cmd.ErrOrStderr(), "Transcript not saved: %s\n", state.LastError)
	}
	return state, nil
}

// runTask starts a task through the controller, streams its command logs
// and waits for the outcome. An interrupted wait cancels the task and waits
// for the cancellation outcome.
func runTask(cmd *cobra.Command, svc *bootstrap.Services, start func() (*jobs.Handle, error)) (controller.State, error) {
	stop := svc.Executor.Events().Subscribe(eventPrinter(cmd.ErrOrStderr()))
	defer stop()

	h, err := start()
	if err != nil {
		return controller.State{}, err
	}

	outcome, err := h.Wait(cmd.Context())
	if err != nil {
		yellow.Fprintln(cmd.ErrOrStderr(), "Interrupted, cancelling task...")
		if cancelErr := svc.Controller.Cancel(); cancelErr != nil && !errors.Is(cancelErr, jobs.ErrNoRunningTask) {
			return controller.State{}, cancelErr
		}
		ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
		if outcome, err = h.Wait(ctx); err != nil {
			return controller.State{}, fmt.Errorf("task did not stop: %w", err)
		}
	}

	// Snapshot is served by the loop after the outcome callback.
	state := svc.Controller.Snapshot()
	if !outcome.OK() {
		return state, errors.New(outcome.Message)
	}
	return state, nil
}

func eventPrinter(w io.Writer) func(jobs.Event) {
	return func(event jobs.Event) {
		switch event.Type {
		case jobs.EventTypeLog:
			faint.Fprintf(w, "$ %s (exit %d)\n", event.Command, event.ExitCode)
		case jobs.EventTypeError:
			red.Fprintf(w, "%s failed: %s\n", event.Kind, event.Message)
		case jobs.EventTypeStatus:
			switch {
			case event.Message != "":
				yellow.Fprintf(w, "%s: %s\n", event.Kind, event.Message)
			case event.Status == domain.TaskStatusRunning:
				bold.Fprintf(w, "%s started\n", event.Kind)
			}
		}
	}
}
