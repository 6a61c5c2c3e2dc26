package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/transcribe"
)

func newModelsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and download whisper.cpp models",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog models and whether they are in models_dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.store().Load()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSIZE\tSTATE\tDESCRIPTION")
			for _, m := range transcribe.Models(cfg.ModelsDir) {
				state := "-"
				if m.Downloaded {
					state = "downloaded"
				}
				if transcribe.NormalizeModelName(cfg.ModelName) == m.ID {
					state += " *"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.SizeLabel, state, m.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nmodels_dir: %s (* = model_name)\n", cfg.ModelsDir)
			return nil
		},
	}

	download := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a catalog model and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				model, ok := transcribe.LookupModel(args[0])
				if !ok {
					return fmt.Errorf("unknown model id: %s", args[0])
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Downloading %s (%s)...\n", model.Name, model.SizeLabel)
				settings, err := svc.DownloadModel(cmd.Context(), model.ID)
				if err != nil {
					return err
				}
				green.Fprintf(cmd.OutOrStdout(), "model_name = %s\n", settings.ModelName)
				return nil
			})
		},
	}

	cmd.AddCommand(list, download)
	return cmd
}
