package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Shimizu-Technology/document-viewer-api/internal/config"
	"github.com/Shimizu-Technology/document-viewer-api/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "document-viewer-api",
	Short: "PDF processing and page delivery service",
	Example: `document-viewer-api serve
document-viewer-api migrate up
document-viewer-api migrate down --steps 1
document-viewer-api validate ./report.pdf`,
	SilenceUsage: true,
	// Running the binary without a subcommand starts the server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd(), migrateCmd(), validateCmd())
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

// loadConfig loads configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("❌ Failed to load config")
		return nil, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}
