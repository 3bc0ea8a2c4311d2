package main

import (
	"fmt"
	"os"

	"github.com/fgeck/gowake-homelab/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and show the wake plan without sending any packets.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	g, err := config.Validate(cfg)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Wake plan:")
	renderPlan(os.Stdout, g)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  History: %v\n", cfg.History != nil)

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.History != nil {
		fmt.Println()
		fmt.Println("History Configuration:")
		fmt.Printf("  Path: %s\n", cfg.History.Path)
	}

	return nil
}
