package main

import (
	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a previously interrupted publish run (spec.md §4.7)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), true)
		},
	}
}
