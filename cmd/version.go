package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/forwarder/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Annotations: map[string]string{
			skipWiringAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return err
		},
	}
}
