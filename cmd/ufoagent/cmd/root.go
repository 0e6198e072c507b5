package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/ufoagent/config"
	"github.com/rustyeddy/ufoagent/logger"
)

var rootCmd = &cobra.Command{
	Use:   "ufoagent",
	Short: "Currency strength driven FX trading agent",
	Long: `ufoagent measures the relative strength of the major currencies across
several timeframes and lets a panel of decision roles trade on it.

It provides tools for:
  - Running the decision loop against a paper or OANDA account
  - Replaying a trading day on historical or synthetic bars
  - Querying the run journal for trades, cycles and P&L
  - Exporting bar history to CSV

Settings come from a YAML, JSON or TOML file given with --config, with
secrets read from the environment (a .env file is loaded when present).`,
	SilenceUsage: true,
}

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with secrets")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override app.log_level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override app.log_format (console or json)")
}

// loadConfig reads the configuration and builds the logger it names.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	config.LoadEnv(envFile)
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.App.LogFormat = logFormat
	}
	log := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}
	return cfg, log, nil
}
