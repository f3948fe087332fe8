package cmd

import (
	"fmt"

	"github.com/shiroyk/courier/lib"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: ""},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "courier %v/%v\n", lib.Version, lib.CommitSHA)
		},
	}
}
