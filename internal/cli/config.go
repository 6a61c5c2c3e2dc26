package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"audiodesk/internal/config"
)

func newConfigCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage audiodesk settings",
		Long:  "View and modify the persisted settings file. A missing file is created with defaults.",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := s.store()
			cfg, err := store.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bold.Fprintln(out, "Current settings:")
			width := 0
			for _, key := range config.Keys() {
				width = max(width, len(key))
			}
			for _, key := range config.Keys() {
				value, _ := config.Value(cfg, key)
				fmt.Fprintf(out, "  %-*s  %s\n", width, key, value)
			}
			fmt.Fprintf(out, "\n  %-*s  %s\n", width, "file", store.Path())
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Show settings file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), s.store().Path())
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a settings value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.store().Load()
			if err != nil {
				return err
			}
			value, err := config.Value(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a settings value",
		Long: `Set a settings value and save the file.

Supported keys:
  ` + strings.Join(config.Keys(), "\n  ") + `

Examples:
  audiodesk config set record_duration 30
  audiodesk config set model_name small
  audiodesk config set engine openai`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := s.store()
			cfg, err := store.Load()
			if err != nil {
				return err
			}
			if err := config.Apply(&cfg, args[0], args[1]); err != nil {
				return err
			}
			cfg = config.Normalize(cfg)
			if err := store.Save(cfg); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			value, _ := config.Value(cfg, args[0])
			green.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], value)
			return nil
		},
	}

	cmd.AddCommand(show, path, get, set)
	return cmd
}
