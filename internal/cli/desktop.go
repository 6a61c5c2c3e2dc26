package cli

import (
	"github.com/spf13/cobra"

	"audiodesk/internal/bootstrap"
)

func newDesktopCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "app",
		Short: "Open the desktop window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withServices(func(svc *bootstrap.Services) error {
				return bootstrap.NewApp(svc, nil).Run()
			})
		},
	}
}
