package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roadmate/roadmate/internal/providers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show roadmate status",
	RunE:  runStatus,
}

func mark(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "✓"
	}
	return "✗"
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg := appConfig

	fmt.Printf("%s roadmate Status\n\n", logo)
	fmt.Printf("Config:    %s %s\n", configPath, mark(configPath))

	switch cfg.Storage.Driver {
	case "memory":
		fmt.Println("Storage:   memory (not persisted)")
	default:
		db := cfg.Storage.DatabasePath()
		fmt.Printf("Storage:   sqlite %s %s\n", db, mark(db))
	}
	if cfg.Storage.PostgresDSN != "" {
		fmt.Println("Memories:  postgres (pgvector)")
	}
	lockDesc := cfg.Lock.Driver
	if cfg.Lock.Driver == "redis" {
		lockDesc += " " + cfg.Lock.RedisAddr
	}
	fmt.Printf("Lock:      %s\n", lockDesc)
	fmt.Printf("Model:     %s\n", cfg.Agents.Defaults.Model)
	fmt.Printf("Embedding: %s\n", cfg.Agents.Defaults.EmbeddingModel)
	fmt.Printf("Compact:   every %d events\n\n", cfg.Compaction.Threshold)

	active := cfg.MatchProvider("").Name

	fmt.Println("Providers:")
	for _, spec := range providers.PROVIDERS {
		p := cfg.ProviderByName(spec.Name)
		if p == nil {
			continue
		}
		label := spec.Label()
		if spec.Name == active {
			label += " *"
		}
		switch {
		case spec.IsLocal:
			if p.APIBase != "" {
				fmt.Printf("  %-20s ✓ %s\n", label, p.APIBase)
			} else {
				fmt.Printf("  %-20s (not set)\n", label)
			}
		default:
			if p.APIKey != "" {
				fmt.Printf("  %-20s ✓\n", label)
			} else {
				fmt.Printf("  %-20s (not set)\n", label)
			}
		}
	}
	return nil
}
