package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aanfarhan/sso-sync/config"
	"github.com/aanfarhan/sso-sync/log"
)

var (
	appLogger log.Logger
	appConfig *config.Config

	flagLogLevel string
	flagPretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "ssosync",
	Short: "ssosync keeps a local user store in step with an OAuth2 user directory",
	Long: `ssosync talks to an OAuth2 authorization server with client credentials,
reconciles the local user collection against the server's user directory,
and serves the login-time sync endpoint for host applications.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		appConfig = cfg

		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = flagLogLevel
		}
		pretty := cfg.LogPretty
		if cmd.Flags().Changed("pretty") {
			pretty = flagPretty
		}
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		appLogger = log.NewZerologAdapter(parsed, pretty)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", true, "human-readable console log output")
}
