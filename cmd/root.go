// Package cmd defines the canvaschat CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "canvaschat",
	Short: "Canvas chat - branching AI conversations on a 2D canvas",
	Long: `Canvaschat runs a local service that organizes AI conversations as a
tree of nodes on a spatial canvas. Any message can branch into multiple
follow-ups, and structured responses can be split into per-topic nodes.

Run "canvaschat serve" to start the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
