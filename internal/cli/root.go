// Package cli implements the audiodesk command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/config"
	"audiodesk/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// session holds the root flags and the services built from them. Services
// are created on first use so config commands never touch the executor.
type session struct {
	configPath string
	logLevel   string
	logFile    string
	jsonLogs   bool

	base      bootstrap.Options
	logger    zerolog.Logger
	logCloser io.Closer
	svc       *bootstrap.Services
}

// Execute runs the root command with process signals wired to cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(bootstrap.Options{})
}

// newRootCommand builds the tree with base as the template for the
// services it creates; tests inject fakes through it.
func newRootCommand(base bootstrap.Options) *cobra.Command {
	s := &session{base: base, logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "audiodesk",
		Short:         "Record, slice and transcribe audio without blocking the interface",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := logging.New(logging.Options{
				Level:  s.logLevel,
				Pretty: !s.jsonLogs,
				File:   s.logFile,
				Out:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			s.logger = logger
			s.logCloser = closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			s.close()
		},
	}

	root.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "settings file (.json or .yml; default $"+config.EnvConfigPath+" or "+config.DefaultFileName+")")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&s.logFile, "log-file", "", "also write logs to this file")
	root.PersistentFlags().BoolVar(&s.jsonLogs, "json-logs", false, "write logs as JSON instead of console lines")

	root.AddCommand(
		newRecordCmd(s),
		newSliceCmd(s),
		newTranscribeCmd(s),
		newPipelineCmd(s),
		newConfigCmd(s),
		newServeCmd(s),
		newModelsCmd(s),
		newDoctorCmd(s),
		newDesktopCmd(s),
	)
	return root
}

func (s *session) store() *config.FileStore {
	return config.NewFileStore(config.DefaultPath(s.configPath))
}

// withServices builds the services, runs fn and shuts them down. Cobra
// skips post-run hooks when a command fails, so cleanup happens here.
func (s *session) withServices(fn func(svc *bootstrap.Services) error) error {
	opts := s.base
	opts.ConfigPath = s.configPath
	opts.Logger = s.logger
	if opts.Store == nil {
		opts.Store = s.store()
	}
	svc, err := bootstrap.NewServices(opts)
	if err != nil {
		return err
	}
	s.svc = svc
	defer s.close()
	return fn(svc)
}

func (s *session) close() {
	if s.svc != nil {
		s.svc.Close()
		s.svc = nil
	}
	if s.logCloser != nil {
		if err := s.logCloser.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
		s.logCloser = nil
	}
}
