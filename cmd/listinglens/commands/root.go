// Package commands implements the CLI commands for listinglens.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/listinglens/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "listinglens",
	Short: "Extract structured property listings from dynamic web pages",
	Long: `listinglens loads property listing pages in a real browser, reveals
hidden details such as phone numbers and collapsed descriptions, and asks an
LLM to turn the relevant page sections into structured records.

Examples:
  # Extract a single listing
  listinglens extract -u "https://example.com/listing/123"

  # Extract a batch from a file, keep successes as CSV
  listinglens extract -f urls.txt --csv

  # Use a site profile and a remote Chrome
  listinglens extract -f urls.txt --profile site.yaml \
      --browser remote --browser-url ws://localhost:9222

  # Pipe URLs, write JSON
  cat urls.txt | listinglens extract --format json -o listings.json`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.listinglens.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	rootCmd.PersistentFlags().String("event-log", "", "append info-level events as JSON lines to this file")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
	_ = viper.BindPFlag("event_log", rootCmd.PersistentFlags().Lookup("event-log"))
}

func initConfig() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".listinglens")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LISTINGLENS")
	viper.AutomaticEnv()

	_ = viper.BindEnv("api_key", "LISTINGLENS_API_KEY")

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger configures logging from the global flags. The returned closer
// releases the event log, if one was opened.
func initLogger() (io.Closer, error) {
	opts := logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("log_json"),
	}

	var closer io.Closer = nopCloser{}
	if path := viper.GetString("event_log"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //#nosec G304 -- user-specified log file
		if err != nil {
			return nil, fmt.Errorf("opening event log: %w", err)
		}
		opts.EventLog = f
		closer = f
	}

	logger.Init(opts)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
