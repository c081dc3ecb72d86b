// Command amber runs the expressive eye character: gaze tracking from the
// camera, a live voice conversation and the render surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/amber-eyes/internal/config"
	"github.com/teslashibe/amber-eyes/internal/log"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "amber",
	Short: "Amber - expressive eyes with a voice",
	Long: `Amber drives a pair of expressive eyes. The eyes follow the person in
front of the camera, and a live voice session can change their expression.

Configuration:
  The agent looks for configuration in:
  1. --config flag (explicit path)
  2. ./amber.yaml (current directory)
  3. $HOME/.config/amber/amber.yaml

Environment Variables:
  GEMINI_API_KEY          - Gemini API key (AI Studio)
  GOOGLE_CLOUD_PROJECT    - Vertex AI project, used instead of an API key
  GOOGLE_CLOUD_LOCATION   - Vertex AI region
  AMBER_<SECTION>_<KEY>   - any config key, e.g. AMBER_WEB_PORT=9000`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./amber.yaml or $HOME/.config/amber/amber.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gazeCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and initializes the logger, letting
// --log-level win over the file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
