package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configDir string
	logLevel  string
	log       *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "testoor",
	Short: "End-to-end UI test orchestrator",
	Long: `Testoor runs end-to-end UI test bundles against target environments,
exposes a dashboard-oriented HTTP API and records per-test artifacts
(console log, video, live screenshot) for observation and later review.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("testoor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir, "config", defaultConfigDir(),
		"directory holding app.config.json, environments.json and users.json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info",
		"log level (trace, debug, info, warn, error)",
	)

	rootCmd.AddCommand(versionCmd)
}

// defaultConfigDir honors the CONFIG_PATH override.
func defaultConfigDir() string {
	if dir := os.Getenv("CONFIG_PATH"); dir != "" {
		return dir
	}

	return "./config"
}
