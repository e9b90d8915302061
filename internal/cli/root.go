// Package cli implements the flowatch command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowatch/flowatch/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "flowatch",
	Short: "Black-box workflow execution monitor",
	Long: `Flowatch observes a workflow run from the outside: it polls an
S3-compatible object store for the log and completion-marker artifacts each
function leaves behind and infers per-function execution status from them.
It never executes workflow functions itself.

Watch a run:
  flowatch watch --config flowatch.yaml

Inspect past runs:
  flowatch history my-pipeline`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(loadDotenv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./flowatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadDotenv pulls credentials from a local .env file when present, so store
// secrets stay out of config files.
func loadDotenv() {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}
}

// setupLogging configures zerolog before the config is available.
func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// applyLogging reconfigures zerolog from the loaded config. The --verbose
// flag always wins on level.
func applyLogging(cfg *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var output = os.Stderr
	logger := zerolog.New(output)
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: output})
	}

	ctx := logger.With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// loadConfig loads and applies the configuration shared by subcommands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	applyLogging(&cfg.Logging)
	return cfg, nil
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("flowatch version %s", "0.1.0-dev")
}
