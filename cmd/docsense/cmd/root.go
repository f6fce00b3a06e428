// Package cmd provides the CLI commands for DocSense.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docsense/docsense/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the docsense CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsense",
		Short: "Hybrid retrieval and question answering over documents",
		Long: `DocSense ingests documents into a hybrid lexical/vector index and
answers questions about them with cited, document-grounded generations.

Run 'docsense serve' to start the HTTP API, or use 'ingest' and 'query'
for one-shot operations against a local data directory.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
