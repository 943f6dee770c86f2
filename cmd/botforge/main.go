// Command botforge turns a natural-language request into a generated,
// bundled and locally deployed application.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"botforge/internal/config"
	"botforge/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "botforge",
	Short: "Generate, bundle and run chatbot and CRUD applications from a description",
	Long: `botforge classifies a request, generates a Python backend and an
optional React UI through a code synthesis service, writes them to a
project bundle and runs the bundle as two local services.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init()
		cfg = config.Load()
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, deployCmd, stopCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.S().Errorf("botforge: %v", err)
		logging.Sync()
		os.Exit(1)
	}
}
