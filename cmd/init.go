package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roadmate/roadmate/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	RunE:  runInit,
}

func runInit(_ *cobra.Command, _ []string) error {
	cfgPath := configPath

	if _, err := os.Stat(cfgPath); err == nil {
		// Load already merged the file over the defaults; saving refreshes it
		// with any keys added since.
		if err := config.Save(appConfig, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Config refreshed at %s\n", cfgPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Printf("\n%s roadmate is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Add your API key to %s (or set %sAPI_KEY)\n", cfgPath, config.EnvPrefix)
	fmt.Printf("  2. Chat: roadmate chat -m \"Find a charger on my route\"\n")
	return nil
}
