package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ufoagent/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage agent configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  ufoagent config init -o ufo.yaml
  ufoagent config validate -f ufo.toml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. The format
follows the extension: .yaml, .json or .toml.

Example:
  ufoagent config init -o ufo.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded, then print
the settings that matter most.

Example:
  ufoagent config validate -f ufo.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "ufo.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nSecrets are read from the environment or a .env file:")
	fmt.Println("  UFO_OANDA_TOKEN, UFO_OANDA_ACCOUNT, UFO_LLM_API_KEY, UFO_REDIS_URL, UFO_POSTGRES_DSN")
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  ufoagent run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	config.LoadEnv(envFile)
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	t := cfg.Trading

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Cycle: every %s\n", t.CyclePeriod())
	fmt.Printf("  Positions: max %d, target %d, minimum %d (equity stop %.1f%%)\n",
		t.MaxConcurrentPositions.Value(), t.TargetPositionsWhenAvailable.Value(),
		t.MinPositionsForSession.Value(), t.EquityStop()*100)
	fmt.Printf("  Universe: %d symbols from %v\n", len(t.Universe()), []string(t.Currencies))
	fmt.Printf("  Data: %s  Broker: %s  Roles: %s  Cache: %s\n",
		cfg.Data.Source, cfg.Broker.Type, cfg.Roles.Strategy, cfg.Cache.Type)
	for _, w := range cfg.Warnings() {
		fmt.Printf("! %s\n", w)
	}
	return nil
}
