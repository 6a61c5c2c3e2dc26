package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/domain"
)

// errChecksFailed is returned by doctor when a check still fails.
var errChecksFailed = errors.New("some checks failed")

func newDoctorCmd(s *session) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, the transcription engine, the model and the transcript directory",
		Long: `Run environment checks for the configured engine.

With --fix, every failing check that has a remediation is attempted:
package-manager installs for ffmpeg and whisper-cli, a catalog model
download, creating the transcript directory, or resetting the engine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				report := svc.RefreshDiagnostics()
				out := cmd.OutOrStdout()

				if fix {
					for _, item := range report.Items {
						if item.Status != domain.DiagnosticStatusFail || !item.Fixable {
							continue
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "Fixing %s...\n", item.Name)
						fixed, err := svc.Fix(cmd.Context(), item.ID)
						if err != nil {
							red.Fprintf(cmd.ErrOrStderr(), "  %v\n", err)
						}
						report = fixed
					}
				}

				printReport(out, report)
				if report.HasFailures {
					return errChecksFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "attempt to fix failing checks")
	return cmd
}

func printReport(w io.Writer, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		switch item.Status {
		case domain.DiagnosticStatusPass:
			green.Fprint(w, "[pass] ")
		case domain.DiagnosticStatusSkip:
			faint.Fprint(w, "[skip] ")
		default:
			red.Fprint(w, "[fail] ")
		}
		fmt.Fprintf(w, "%s: %s\n", item.Name, item.Message)
		if item.Status == domain.DiagnosticStatusFail && item.Hint != "" {
			fixable := ""
			if item.Fixable {
				fixable = " (doctor --fix)"
			}
			yellow.Fprintf(w, "       %s%s\n", item.Hint, fixable)
		}
	}
}
